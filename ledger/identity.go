package ledger

import (
	"github.com/ethereum/go-ethereum/common"
)

// OnIdentityChanged subscribes to signer changes. Handlers run sequentially
// on a single dispatch goroutine, so no two handlers ever run concurrently;
// a handler that kicks off a synchronization pass gets the epoch discipline
// of the synchronizer on top of that. The returned function unsubscribes.
func (c *Client) OnIdentityChanged(fn func(account common.Address, signed bool)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Client) notifyIdentity(account common.Address, signed bool) {
	select {
	case c.identity <- identityEvent{account: account, signed: signed}:
	case <-c.done:
	}
}

func (c *Client) dispatchIdentityEvents() {
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.identity:
			c.subsMu.Lock()
			handlers := make([]func(common.Address, bool), 0, len(c.subs))
			for _, fn := range c.subs {
				handlers = append(handlers, fn)
			}
			c.subsMu.Unlock()

			for _, fn := range handlers {
				fn(evt.account, evt.signed)
			}
		}
	}
}
