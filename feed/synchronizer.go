package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"chainfeed/models"
	"chainfeed/monitoring"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
)

// Ledger is the read surface the synchronizer consumes. All methods are
// idempotent and side-effect-free.
type Ledger interface {
	PostCount(ctx context.Context) (uint64, error)
	Post(ctx context.Context, id uint64) (models.Post, error)
	CommentCount(ctx context.Context, postID uint64) (uint64, error)
	Comment(ctx context.Context, postID, index uint64) (models.Comment, error)
	User(ctx context.Context, account common.Address) (models.Profile, error)
	HasLiked(ctx context.Context, postID uint64, viewer common.Address) (bool, error)
	IsFollowing(ctx context.Context, viewer, target common.Address) (bool, error)
}

type Resolver interface {
	ResolveAddress(address string) (string, error)
}

type ContentCache interface {
	Get(address string) (bool, models.PostContent)
	Set(address string, content models.PostContent)
}

type ProfilesCache interface {
	Get(account common.Address) (bool, models.Profile)
	Set(profile models.Profile)
}

// Synchronizer joins ledger facts with content-store blobs into the feed
// view. Ledger reads are the only hard dependency of a pass; every other
// sub-fetch degrades to a documented default. Passes are tagged with a
// monotonically increasing epoch and only the newest completed pass may
// install its snapshot, so the view never rewinds to stale data.
type Synchronizer struct {
	ledger        Ledger
	resolver      Resolver
	fetchClient   *http.Client
	contentCache  ContentCache
	profilesCache ProfilesCache

	epoch atomic.Uint64

	mu            sync.RWMutex
	snapshot      []models.EnrichedPost
	snapshotEpoch uint64
	viewer        *common.Address

	subsMu  sync.Mutex
	subs    map[int]chan []models.EnrichedPost
	nextSub int
}

// NewSynchronizer builds a synchronizer. Caches may be nil; fetchClient may
// be nil, in which case a retrying HTTP client is used for gateway fetches.
func NewSynchronizer(
	ledger Ledger,
	resolver Resolver,
	contentCache ContentCache,
	profilesCache ProfilesCache,
	fetchClient *http.Client,
) *Synchronizer {
	if fetchClient == nil {
		retryClient := retryablehttp.NewClient()
		retryClient.Logger = nil
		retryClient.RetryMax = 2
		fetchClient = retryClient.StandardClient()
	}
	return &Synchronizer{
		ledger:        ledger,
		resolver:      resolver,
		fetchClient:   fetchClient,
		contentCache:  contentCache,
		profilesCache: profilesCache,
		subs:          make(map[int]chan []models.EnrichedPost),
	}
}

// SetViewer sets the identity used for viewer-state sub-fetches in Refresh.
// nil means no viewer session; viewer state then stays at its zero value.
func (s *Synchronizer) SetViewer(viewer *common.Address) {
	s.mu.Lock()
	s.viewer = viewer
	s.mu.Unlock()
}

// Current returns the installed snapshot and its epoch.
func (s *Synchronizer) Current() ([]models.EnrichedPost, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.snapshotEpoch
}

// Subscribe delivers each newly installed snapshot. Slow consumers only
// ever miss intermediate snapshots, never the latest one. The returned
// function unsubscribes.
func (s *Synchronizer) Subscribe() (<-chan []models.EnrichedPost, func()) {
	ch := make(chan []models.EnrichedPost, 1)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Refresh re-runs LoadFeed with the current viewer.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.RLock()
	viewer := s.viewer
	s.mu.RUnlock()

	_, err := s.LoadFeed(ctx, viewer)
	return err
}

// LoadFeed materializes the feed, most recent first. Only the post-count
// read and nothing else is fatal; unreadable individual posts are skipped
// and failed sub-fetches fall back per entry.
//
// A pass for a viewer other than the configured one is detached: its
// entries carry that viewer's like/follow state, so the result is returned
// to the caller only and never installed as the shared view or pushed to
// subscribers.
func (s *Synchronizer) LoadFeed(ctx context.Context, viewer *common.Address) ([]models.EnrichedPost, error) {
	attached := s.matchesViewer(viewer)
	var epoch uint64
	if attached {
		epoch = s.epoch.Add(1)
	}
	start := time.Now()

	count, err := s.ledger.PostCount(ctx)
	if err != nil {
		monitoring.SyncPassesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reading post count: %w", err)
	}

	enriched := make([]models.EnrichedPost, 0, count)
	for id := uint64(1); id <= count; id++ {
		post, err := s.ledger.Post(ctx, id)
		if err != nil {
			// Skip, never abort the batch: ids may be locally unreadable
			// without invalidating their siblings.
			log.Warningf("Skipping unreadable post %d: %v", id, err)
			continue
		}
		enriched = append(enriched, s.enrich(ctx, post, viewer))
	}

	// Ledger ids ascend with creation time.
	slices.Reverse(enriched)

	switch {
	case !attached:
		monitoring.SyncPassesTotal.WithLabelValues("detached").Inc()
	case s.install(epoch, enriched):
		monitoring.SyncPassesTotal.WithLabelValues("ok").Inc()
	default:
		monitoring.SyncPassesTotal.WithLabelValues("superseded").Inc()
	}
	monitoring.SyncPassDuration.Observe(time.Since(start).Seconds())

	return enriched, nil
}

func (s *Synchronizer) matchesViewer(viewer *common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if (viewer == nil) != (s.viewer == nil) {
		return false
	}
	return viewer == nil || *viewer == *s.viewer
}

// install applies the snapshot unless a newer pass has started or finished
// in the meantime. Superseded results are discarded, not merged.
func (s *Synchronizer) install(epoch uint64, snapshot []models.EnrichedPost) bool {
	if s.epoch.Load() != epoch {
		return false
	}

	s.mu.Lock()
	if epoch <= s.snapshotEpoch {
		s.mu.Unlock()
		return false
	}
	s.snapshot = snapshot
	s.snapshotEpoch = epoch
	s.mu.Unlock()

	s.subsMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- snapshot:
		default:
			// Drop the stale pending snapshot, then queue the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	s.subsMu.Unlock()

	return true
}

func (s *Synchronizer) enrich(ctx context.Context, post models.Post, viewer *common.Address) models.EnrichedPost {
	entry := models.EnrichedPost{
		Post:     post,
		Content:  s.fetchContent(ctx, post.ContentAddress),
		Profile:  s.fetchProfile(ctx, post.Author),
		Comments: s.fetchComments(ctx, post.ID),
	}
	if viewer != nil {
		entry.Viewer = s.fetchViewerState(ctx, post.ID, post.Author, *viewer)
	}
	return entry
}

// postMetadata tolerates the field spellings historical clients wrote.
type postMetadata struct {
	Text      string `json:"text"`
	Image     string `json:"image"`
	ImageCID  string `json:"imageCID"`
	ImageURL  string `json:"image_url"`
	Timestamp int64  `json:"timestamp"`
}

func (m *postMetadata) imageAddress() string {
	for _, candidate := range []string{m.Image, m.ImageCID, m.ImageURL} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (s *Synchronizer) fetchContent(ctx context.Context, address string) models.PostContent {
	if s.contentCache != nil {
		if ok, content := s.contentCache.Get(address); ok {
			return content
		}
	}

	url, err := s.resolver.ResolveAddress(address)
	if err != nil {
		log.Warningf("Error resolving content address %q: %v", address, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("content").Inc()
		return models.FallbackContent()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		monitoring.SyncFallbacksTotal.WithLabelValues("content").Inc()
		return models.FallbackContent()
	}
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		log.Warningf("Error fetching content %s: %v", address, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("content").Inc()
		return models.FallbackContent()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warningf("Error fetching content %s: status %s", address, resp.Status)
		monitoring.SyncFallbacksTotal.WithLabelValues("content").Inc()
		return models.FallbackContent()
	}

	var metadata postMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		log.Warningf("Error decoding content %s: %v", address, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("content").Inc()
		return models.FallbackContent()
	}

	createdAt := metadata.Timestamp
	if createdAt > 1e12 {
		// Historical clients wrote milliseconds.
		createdAt /= 1000
	}
	content := models.PostContent{
		Text:         metadata.Text,
		ImageAddress: metadata.imageAddress(),
		CreatedAt:    createdAt,
	}
	if s.contentCache != nil {
		s.contentCache.Set(address, content)
	}
	return content
}

func (s *Synchronizer) fetchProfile(ctx context.Context, account common.Address) models.Profile {
	if s.profilesCache != nil {
		if ok, profile := s.profilesCache.Get(account); ok {
			return profile
		}
	}

	profile, err := s.ledger.User(ctx, account)
	if err != nil {
		log.Warningf("Error fetching profile for %s: %v", account, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("profile").Inc()
		return models.Profile{Account: account}
	}
	if s.profilesCache != nil {
		s.profilesCache.Set(profile)
	}
	return profile
}

func (s *Synchronizer) fetchComments(ctx context.Context, postID uint64) []models.Comment {
	count, err := s.ledger.CommentCount(ctx, postID)
	if err != nil {
		log.Warningf("Error fetching comment count for post %d: %v", postID, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("comments").Inc()
		return []models.Comment{}
	}

	comments := make([]models.Comment, 0, count)
	for index := uint64(0); index < count; index++ {
		comment, err := s.ledger.Comment(ctx, postID, index)
		if err != nil {
			log.Warningf("Error fetching comment %d/%d: %v", postID, index, err)
			monitoring.SyncFallbacksTotal.WithLabelValues("comments").Inc()
			return []models.Comment{}
		}
		comments = append(comments, comment)
	}
	return comments
}

func (s *Synchronizer) fetchViewerState(ctx context.Context, postID uint64, author, viewer common.Address) models.ViewerState {
	var state models.ViewerState

	hasLiked, err := s.ledger.HasLiked(ctx, postID, viewer)
	if err != nil {
		log.Warningf("Error fetching like state for post %d: %v", postID, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("viewer").Inc()
	} else {
		state.HasLiked = hasLiked
	}

	isFollowing, err := s.ledger.IsFollowing(ctx, viewer, author)
	if err != nil {
		log.Warningf("Error fetching follow state for %s: %v", author, err)
		monitoring.SyncFallbacksTotal.WithLabelValues("viewer").Inc()
	} else {
		state.IsFollowing = isFollowing
	}

	return state
}
