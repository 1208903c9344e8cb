package actions

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"chainfeed/ledger"
	"chainfeed/monitoring"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// ErrActionInFlight means an identical action by the same actor is still
// pending. The original action is unaffected.
var ErrActionInFlight = errors.New("action already in flight")

type Kind string

const (
	KindCreatePost      Kind = "create_post"
	KindLike            Kind = "like"
	KindComment         Kind = "comment"
	KindFollow          Kind = "follow"
	KindUnfollow        Kind = "unfollow"
	KindRegisterProfile Kind = "register_profile"
	KindUpdateProfile   Kind = "update_profile"
)

type State int

const (
	Idle State = iota
	Drafting
	Submitted
	Pending
	Confirmed
	Rejected
	Reverted
	SubmissionFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Drafting:
		return "drafting"
	case Submitted:
		return "submitted"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case Reverted:
		return "reverted"
	case SubmissionFailed:
		return "submission_failed"
	}
	return "unknown"
}

// PendingTransaction tracks one in-flight mutating action. Destroyed on
// confirmation or terminal failure.
type PendingTransaction struct {
	Kind        Kind
	Target      string
	SubmittedAt time.Time
	State       State
}

// Writer is the mutating ledger surface.
type Writer interface {
	Signer() (common.Address, bool)
	CreatePost(ctx context.Context, contentAddress string) (ledger.Handle, error)
	LikePost(ctx context.Context, postID uint64) (ledger.Handle, error)
	AddComment(ctx context.Context, postID uint64, text string) (ledger.Handle, error)
	Follow(ctx context.Context, target common.Address) (ledger.Handle, error)
	Unfollow(ctx context.Context, target common.Address) (ledger.Handle, error)
	Register(ctx context.Context, username, bio, avatarAddress string) (ledger.Handle, error)
	UpdateProfile(ctx context.Context, username, bio, avatarAddress string) (ledger.Handle, error)
}

// Uploader is the content-store surface writes depend on. Uploads complete
// and yield an address before the ledger call is ever drafted.
type Uploader interface {
	UploadFile(ctx context.Context, data []byte, contentType string) (string, error)
	UploadJSON(ctx context.Context, v any) (string, error)
}

// Refresher re-synchronizes the feed after a confirmed write.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ProfileInvalidator drops cached profiles the moment their owner mutates
// them on the ledger.
type ProfileInvalidator interface {
	Invalidate(account common.Address)
}

type inFlightKey struct {
	actor common.Address
	kind  Kind
}

// Manager governs the lifecycle of every ledger mutation: upload
// prerequisites, submission, confirmation wait, and the post-confirmation
// feed refresh. The refresh is a full re-synchronization rather than an
// optimistic patch: the ledger enforces rules this client cannot see ahead
// of time (duplicate likes, balance checks), so canonical state wins over
// latency.
type Manager struct {
	ledger   Writer
	store    Uploader
	feed     Refresher
	profiles ProfileInvalidator

	mu       sync.Mutex
	inFlight map[inFlightKey]*PendingTransaction
}

func NewManager(ledgerClient Writer, store Uploader, feed Refresher, profiles ProfileInvalidator) *Manager {
	return &Manager{
		ledger:   ledgerClient,
		store:    store,
		feed:     feed,
		profiles: profiles,
		inFlight: make(map[inFlightKey]*PendingTransaction),
	}
}

// Status reports the in-flight action of the given kind for the current
// signer, if any.
func (m *Manager) Status(kind Kind) (PendingTransaction, bool) {
	actor, ok := m.ledger.Signer()
	if !ok {
		return PendingTransaction{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.inFlight[inFlightKey{actor: actor, kind: kind}]
	if !ok {
		return PendingTransaction{}, false
	}
	return *pending, true
}

// CreatePost uploads the optional image and the mandatory metadata blob,
// then records the metadata's content address on the ledger.
func (m *Manager) CreatePost(ctx context.Context, text string, image []byte, imageType string) error {
	return m.run(ctx, KindCreatePost, "", func(ctx context.Context) (ledger.Handle, error) {
		imageAddress := ""
		if len(image) > 0 {
			address, err := m.store.UploadFile(ctx, image, imageType)
			if err != nil {
				return nil, err
			}
			imageAddress = address
		}

		metadata := map[string]any{
			"text":      text,
			"imageCID":  imageAddress,
			"timestamp": time.Now().Unix(),
		}
		contentAddress, err := m.store.UploadJSON(ctx, metadata)
		if err != nil {
			return nil, err
		}

		return m.ledger.CreatePost(ctx, contentAddress)
	})
}

func (m *Manager) Like(ctx context.Context, postID uint64) error {
	return m.run(ctx, KindLike, targetID(postID), func(ctx context.Context) (ledger.Handle, error) {
		return m.ledger.LikePost(ctx, postID)
	})
}

func (m *Manager) Comment(ctx context.Context, postID uint64, text string) error {
	return m.run(ctx, KindComment, targetID(postID), func(ctx context.Context) (ledger.Handle, error) {
		return m.ledger.AddComment(ctx, postID, text)
	})
}

func (m *Manager) Follow(ctx context.Context, target common.Address) error {
	return m.run(ctx, KindFollow, target.Hex(), func(ctx context.Context) (ledger.Handle, error) {
		return m.ledger.Follow(ctx, target)
	})
}

func (m *Manager) Unfollow(ctx context.Context, target common.Address) error {
	return m.run(ctx, KindUnfollow, target.Hex(), func(ctx context.Context) (ledger.Handle, error) {
		return m.ledger.Unfollow(ctx, target)
	})
}

// RegisterProfile uploads the optional avatar first, then registers.
func (m *Manager) RegisterProfile(ctx context.Context, username, bio string, avatar []byte, avatarType string) error {
	return m.run(ctx, KindRegisterProfile, username, func(ctx context.Context) (ledger.Handle, error) {
		avatarAddress, err := m.uploadAvatar(ctx, avatar, avatarType)
		if err != nil {
			return nil, err
		}
		return m.ledger.Register(ctx, username, bio, avatarAddress)
	})
}

// UpdateProfile uploads the optional avatar first, then updates. An empty
// avatar keeps keepAvatar as the recorded address.
func (m *Manager) UpdateProfile(ctx context.Context, username, bio string, avatar []byte, avatarType, keepAvatar string) error {
	return m.run(ctx, KindUpdateProfile, username, func(ctx context.Context) (ledger.Handle, error) {
		avatarAddress := keepAvatar
		if len(avatar) > 0 {
			address, err := m.uploadAvatar(ctx, avatar, avatarType)
			if err != nil {
				return nil, err
			}
			avatarAddress = address
		}
		return m.ledger.UpdateProfile(ctx, username, bio, avatarAddress)
	})
}

// DeleteProfile clears every profile field. The ledger has no distinct
// delete operation; a cleared profile reads back as unregistered and the
// account may register again later.
func (m *Manager) DeleteProfile(ctx context.Context) error {
	return m.UpdateProfile(ctx, "", "", nil, "", "")
}

func (m *Manager) uploadAvatar(ctx context.Context, avatar []byte, avatarType string) (string, error) {
	if len(avatar) == 0 {
		return "", nil
	}
	return m.store.UploadFile(ctx, avatar, avatarType)
}

func (m *Manager) run(ctx context.Context, kind Kind, target string, submit func(ctx context.Context) (ledger.Handle, error)) error {
	actor, ok := m.ledger.Signer()
	if !ok {
		monitoring.TransactionsTotal.WithLabelValues(string(kind), "no_signer").Inc()
		return ledger.ErrNoSigner
	}

	key := inFlightKey{actor: actor, kind: kind}
	m.mu.Lock()
	if _, exists := m.inFlight[key]; exists {
		m.mu.Unlock()
		monitoring.TransactionsTotal.WithLabelValues(string(kind), "in_flight").Inc()
		return ErrActionInFlight
	}
	pending := &PendingTransaction{
		Kind:        kind,
		Target:      target,
		SubmittedAt: time.Now(),
		State:       Drafting,
	}
	m.inFlight[key] = pending
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, key)
		m.mu.Unlock()
	}()

	handle, err := submit(ctx)
	if err != nil {
		m.setState(pending, classifyError(err))
		monitoring.TransactionsTotal.WithLabelValues(string(kind), pending.State.String()).Inc()
		return err
	}
	m.setState(pending, Submitted)
	log.Infof("Action %s submitted as %s", kind, handle.Hash())

	m.setState(pending, Pending)
	if err := handle.Wait(ctx); err != nil {
		m.setState(pending, classifyError(err))
		monitoring.TransactionsTotal.WithLabelValues(string(kind), pending.State.String()).Inc()
		return err
	}
	m.setState(pending, Confirmed)
	monitoring.TransactionsTotal.WithLabelValues(string(kind), "confirmed").Inc()

	if m.profiles != nil && (kind == KindRegisterProfile || kind == KindUpdateProfile) {
		m.profiles.Invalidate(actor)
	}

	// The view must reflect canonical post-write state, not a guess.
	if err := m.feed.Refresh(ctx); err != nil {
		log.Warningf("Error refreshing feed after %s: %v", kind, err)
	}
	return nil
}

func (m *Manager) setState(pending *PendingTransaction, state State) {
	m.mu.Lock()
	pending.State = state
	m.mu.Unlock()
}

func classifyError(err error) State {
	switch {
	case errors.Is(err, ledger.ErrTxReverted):
		return Reverted
	case errors.Is(err, ledger.ErrTxRejected):
		return Rejected
	case errors.Is(err, ledger.ErrSubmissionFailed):
		return SubmissionFailed
	default:
		// Upload prerequisites and other pre-submission failures never
		// reached the ledger.
		return Rejected
	}
}

func targetID(postID uint64) string {
	return strconv.FormatUint(postID, 10)
}
