package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"chainfeed/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
)

// Handle references a submitted ledger mutation that can be awaited for
// finality.
type Handle interface {
	Hash() common.Hash
	Wait(ctx context.Context) error
}

type txHandle struct {
	tx  *types.Transaction
	eth *ethclient.Client
}

func (h *txHandle) Hash() common.Hash {
	return h.tx.Hash()
}

func (h *txHandle) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, h.eth, h.tx)
	if err != nil {
		return fmt.Errorf("%w: awaiting receipt for %s: %v", ErrSubmissionFailed, h.tx.Hash(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("%w: tx %s", ErrTxReverted, h.tx.Hash())
	}
	return nil
}

// Client reads and mutates the social contract. Reads work without a signer;
// mutations require one and fail with ErrNoSigner otherwise. All ABI outputs
// are validated here so call sites never see malformed ledger responses.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address

	mu      sync.RWMutex
	opts    *bind.TransactOpts
	signer  common.Address
	chainID *big.Int

	subsMu   sync.Mutex
	subs     map[int]func(common.Address, bool)
	nextSub  int
	identity chan identityEvent
	done     chan struct{}
}

type identityEvent struct {
	account common.Address
	signed  bool
}

func NewClient(ctx context.Context, rpcURL, contractAddress, privateKeyHex string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrLedgerUnavailable, rpcURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parsing contract ABI: %w", err)
	}

	address := common.HexToAddress(contractAddress)
	c := &Client{
		eth:      eth,
		contract: bind.NewBoundContract(address, parsed, eth, eth, eth),
		abi:      parsed,
		address:  address,
		subs:     make(map[int]func(common.Address, bool)),
		identity: make(chan identityEvent, 16),
		done:     make(chan struct{}),
	}
	go c.dispatchIdentityEvents()

	if privateKeyHex != "" {
		if err := c.SetSigner(ctx, privateKeyHex); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Close() {
	close(c.done)
	c.eth.Close()
}

// Signer returns the active signing identity, if any.
func (c *Client) Signer() (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer, c.opts != nil
}

// SetSigner installs a signing identity from a hex-encoded private key and
// notifies identity subscribers.
func (c *Client) SetSigner(ctx context.Context, privateKeyHex string) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	c.mu.Lock()
	if c.chainID == nil {
		chainID, err := c.eth.ChainID(ctx)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: fetching chain id: %v", ErrLedgerUnavailable, err)
		}
		c.chainID = chainID
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("building transactor: %w", err)
	}
	c.opts = opts
	c.signer = crypto.PubkeyToAddress(key.PublicKey)
	account := c.signer
	c.mu.Unlock()

	c.notifyIdentity(account, true)
	return nil
}

// ClearSigner drops the signing identity. Reads keep working.
func (c *Client) ClearSigner() {
	c.mu.Lock()
	c.opts = nil
	c.signer = common.Address{}
	c.mu.Unlock()

	c.notifyIdentity(common.Address{}, false)
}

func (c *Client) call(ctx context.Context, out *[]interface{}, method string, args ...interface{}) error {
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, out, method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, method, err)
	}
	return nil
}

func (c *Client) PostCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "postCount"); err != nil {
		return 0, err
	}
	count, err := asUint64(out, 0)
	if err != nil {
		return 0, fmt.Errorf("postCount: %w", err)
	}
	return count, nil
}

func (c *Client) Post(ctx context.Context, id uint64) (models.Post, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "posts", new(big.Int).SetUint64(id)); err != nil {
		return models.Post{}, err
	}
	if len(out) != 5 {
		return models.Post{}, fmt.Errorf("posts(%d): unexpected output arity %d", id, len(out))
	}

	postID, err := asUint64(out, 0)
	if err != nil {
		return models.Post{}, fmt.Errorf("posts(%d): %w", id, err)
	}
	if postID == 0 {
		// The contract zero-fills unused slots; the ledger assigns ids from 1.
		postID = id
	}
	author, ok := out[1].(common.Address)
	if !ok {
		return models.Post{}, fmt.Errorf("posts(%d): author is %T", id, out[1])
	}
	contentCid, ok := out[2].(string)
	if !ok {
		return models.Post{}, fmt.Errorf("posts(%d): contentCid is %T", id, out[2])
	}
	createdAt, err := asUint64(out, 3)
	if err != nil {
		return models.Post{}, fmt.Errorf("posts(%d): %w", id, err)
	}
	likes, err := asUint64(out, 4)
	if err != nil {
		return models.Post{}, fmt.Errorf("posts(%d): %w", id, err)
	}

	return models.Post{
		ID:             postID,
		Author:         author,
		ContentAddress: contentCid,
		CreatedAt:      int64(createdAt),
		LikeCount:      likes,
	}, nil
}

func (c *Client) CommentCount(ctx context.Context, postID uint64) (uint64, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "commentCount", new(big.Int).SetUint64(postID)); err != nil {
		return 0, err
	}
	count, err := asUint64(out, 0)
	if err != nil {
		return 0, fmt.Errorf("commentCount(%d): %w", postID, err)
	}
	return count, nil
}

func (c *Client) Comment(ctx context.Context, postID, index uint64) (models.Comment, error) {
	var out []interface{}
	err := c.call(ctx, &out, "getComment", new(big.Int).SetUint64(postID), new(big.Int).SetUint64(index))
	if err != nil {
		return models.Comment{}, err
	}
	if len(out) != 3 {
		return models.Comment{}, fmt.Errorf("getComment(%d,%d): unexpected output arity %d", postID, index, len(out))
	}
	author, ok := out[0].(common.Address)
	if !ok {
		return models.Comment{}, fmt.Errorf("getComment(%d,%d): author is %T", postID, index, out[0])
	}
	text, ok := out[1].(string)
	if !ok {
		return models.Comment{}, fmt.Errorf("getComment(%d,%d): text is %T", postID, index, out[1])
	}
	createdAt, err := asUint64(out, 2)
	if err != nil {
		return models.Comment{}, fmt.Errorf("getComment(%d,%d): %w", postID, index, err)
	}
	return models.Comment{
		Author:    author,
		Text:      text,
		CreatedAt: int64(createdAt),
	}, nil
}

func (c *Client) User(ctx context.Context, account common.Address) (models.Profile, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "getUser", account); err != nil {
		return models.Profile{}, err
	}
	if len(out) != 4 {
		return models.Profile{}, fmt.Errorf("getUser(%s): unexpected output arity %d", account, len(out))
	}
	username, ok := out[0].(string)
	if !ok {
		return models.Profile{}, fmt.Errorf("getUser(%s): username is %T", account, out[0])
	}
	bio, ok := out[1].(string)
	if !ok {
		return models.Profile{}, fmt.Errorf("getUser(%s): bio is %T", account, out[1])
	}
	avatarCid, ok := out[2].(string)
	if !ok {
		return models.Profile{}, fmt.Errorf("getUser(%s): avatarCid is %T", account, out[2])
	}
	registered, ok := out[3].(bool)
	if !ok {
		return models.Profile{}, fmt.Errorf("getUser(%s): registered is %T", account, out[3])
	}
	return models.Profile{
		Account:       account,
		Username:      username,
		Bio:           bio,
		AvatarAddress: avatarCid,
		Registered:    registered,
	}, nil
}

func (c *Client) HasLiked(ctx context.Context, postID uint64, viewer common.Address) (bool, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "hasLiked", new(big.Int).SetUint64(postID), viewer); err != nil {
		return false, err
	}
	return asBool(out, "hasLiked")
}

func (c *Client) IsFollowing(ctx context.Context, viewer, target common.Address) (bool, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "isFollowing", viewer, target); err != nil {
		return false, err
	}
	return asBool(out, "isFollowing")
}

func (c *Client) CreatePost(ctx context.Context, contentAddress string) (Handle, error) {
	return c.transact(ctx, "createPost", contentAddress)
}

func (c *Client) LikePost(ctx context.Context, postID uint64) (Handle, error) {
	return c.transact(ctx, "likePost", new(big.Int).SetUint64(postID))
}

func (c *Client) AddComment(ctx context.Context, postID uint64, text string) (Handle, error) {
	return c.transact(ctx, "addComment", new(big.Int).SetUint64(postID), text)
}

func (c *Client) Follow(ctx context.Context, target common.Address) (Handle, error) {
	return c.transact(ctx, "follow", target)
}

func (c *Client) Unfollow(ctx context.Context, target common.Address) (Handle, error) {
	return c.transact(ctx, "unfollow", target)
}

func (c *Client) Register(ctx context.Context, username, bio, avatarAddress string) (Handle, error) {
	return c.transact(ctx, "register", username, bio, avatarAddress)
}

func (c *Client) UpdateProfile(ctx context.Context, username, bio, avatarAddress string) (Handle, error) {
	return c.transact(ctx, "updateProfile", username, bio, avatarAddress)
}

func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (Handle, error) {
	c.mu.RLock()
	base := c.opts
	c.mu.RUnlock()
	if base == nil {
		return nil, ErrNoSigner
	}

	opts := *base
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		log.Errorf("Error submitting %s: %v", method, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrSubmissionFailed, method, err)
	}
	log.Infof("Submitted %s as %s", method, tx.Hash())

	return &txHandle{tx: tx, eth: c.eth}, nil
}

func asUint64(out []interface{}, index int) (uint64, error) {
	if index >= len(out) {
		return 0, fmt.Errorf("missing output %d", index)
	}
	value, ok := out[index].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("output %d is %T, want *big.Int", index, out[index])
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("output %d overflows uint64", index)
	}
	return value.Uint64(), nil
}

func asBool(out []interface{}, method string) (bool, error) {
	if len(out) != 1 {
		return false, fmt.Errorf("%s: unexpected output arity %d", method, len(out))
	}
	value, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: output is %T, want bool", method, out[0])
	}
	return value, nil
}
