package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"
)

// Watch streams contract log events and invokes fn for each one until ctx is
// cancelled. It is used to trigger re-synchronization when other clients
// mutate the ledger. Requires a websocket RPC endpoint; callers on plain
// HTTP endpoints should skip watching and rely on post-write refreshes.
func (c *Client) Watch(ctx context.Context, fn func(event string)) error {
	logs := make(chan types.Log, 64)
	sub, err := c.eth.SubscribeFilterLogs(
		ctx,
		ethereum.FilterQuery{Addresses: []common.Address{c.address}},
		logs,
	)
	if err != nil {
		return fmt.Errorf("%w: subscribing to contract logs: %v", ErrLedgerUnavailable, err)
	}
	defer sub.Unsubscribe()

	log.Infof("Watching contract %s for events", c.address)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("%w: log subscription: %v", ErrLedgerUnavailable, err)
		case l := <-logs:
			name := "unknown"
			if len(l.Topics) > 0 {
				if event, err := c.abi.EventByID(l.Topics[0]); err == nil {
					name = event.Name
				}
			}
			fn(name)
		}
	}
}
