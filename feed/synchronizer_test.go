package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chainfeed/models"

	"github.com/ethereum/go-ethereum/common"
)

type fakeLedger struct {
	mu       sync.Mutex
	count    uint64
	posts    map[uint64]models.Post
	postErrs map[uint64]error
	comments map[uint64][]models.Comment
	profiles map[common.Address]models.Profile
	liked    map[uint64]bool
	follows  map[common.Address]bool

	countErr error

	// countStarted/countRelease gate PostCount for the epoch race test
	countStarted chan struct{}
	countRelease chan struct{}
	gateOnce     sync.Once
}

func (f *fakeLedger) PostCount(ctx context.Context) (uint64, error) {
	if f.countStarted != nil {
		gated := false
		f.gateOnce.Do(func() { gated = true })
		if gated {
			close(f.countStarted)
			<-f.countRelease
		}
	}
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeLedger) Post(ctx context.Context, id uint64) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.postErrs[id]; err != nil {
		return models.Post{}, err
	}
	post, ok := f.posts[id]
	if !ok {
		return models.Post{}, fmt.Errorf("no post %d", id)
	}
	return post, nil
}

func (f *fakeLedger) CommentCount(ctx context.Context, postID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.comments[postID])), nil
}

func (f *fakeLedger) Comment(ctx context.Context, postID, index uint64) (models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.comments[postID]
	if index >= uint64(len(list)) {
		return models.Comment{}, fmt.Errorf("no comment %d/%d", postID, index)
	}
	return list[index], nil
}

func (f *fakeLedger) User(ctx context.Context, account common.Address) (models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[account]
	if !ok {
		return models.Profile{}, fmt.Errorf("no profile for %s", account)
	}
	return profile, nil
}

func (f *fakeLedger) HasLiked(ctx context.Context, postID uint64, viewer common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liked[postID], nil
}

func (f *fakeLedger) IsFollowing(ctx context.Context, viewer, target common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.follows[target], nil
}

// fakeResolver maps addresses to URLs directly, standing in for the gateway
// subdomain scheme.
type fakeResolver struct {
	urls map[string]string
}

func (r *fakeResolver) ResolveAddress(address string) (string, error) {
	url, ok := r.urls[address]
	if !ok {
		return "", fmt.Errorf("unresolvable address %q", address)
	}
	return url, nil
}

func contentServer(t *testing.T, bodies map[string]models.PostContent) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"text":     content.Text,
			"imageCID": content.ImageAddress,
		})
	}))
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func newTestLedger(n uint64) *fakeLedger {
	f := &fakeLedger{
		count:    n,
		posts:    make(map[uint64]models.Post),
		postErrs: make(map[uint64]error),
		comments: make(map[uint64][]models.Comment),
		profiles: make(map[common.Address]models.Profile),
		liked:    make(map[uint64]bool),
		follows:  make(map[common.Address]bool),
	}
	for id := uint64(1); id <= n; id++ {
		f.posts[id] = models.Post{
			ID:             id,
			Author:         addr(byte(id)),
			ContentAddress: fmt.Sprintf("cid-%d", id),
			CreatedAt:      1700000000 + int64(id),
			LikeCount:      id,
		}
	}
	return f
}

func TestLoadFeedOrdering(t *testing.T) {
	ledger := newTestLedger(5)
	server := contentServer(t, map[string]models.PostContent{
		"/1": {Text: "one"}, "/2": {Text: "two"}, "/3": {Text: "three"},
		"/4": {Text: "four"}, "/5": {Text: "five"},
	})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{}}
	for id := 1; id <= 5; id++ {
		resolver.urls[fmt.Sprintf("cid-%d", id)] = fmt.Sprintf("%s/%d", server.URL, id)
	}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(posts) != 5 {
		t.Fatalf("got %d posts, want 5", len(posts))
	}
	seen := make(map[uint64]bool)
	for i, post := range posts {
		if post.ID < 1 || post.ID > 5 {
			t.Errorf("post id %d out of range", post.ID)
		}
		if seen[post.ID] {
			t.Errorf("duplicate post id %d", post.ID)
		}
		seen[post.ID] = true
		if i > 0 && posts[i-1].ID <= post.ID {
			t.Errorf("posts not strictly descending at index %d", i)
		}
	}
	if posts[0].Content.Text != "five" {
		t.Errorf("got content %q, want most recent first", posts[0].Content.Text)
	}
}

func TestLoadFeedSkipsUnreadablePosts(t *testing.T) {
	ledger := newTestLedger(3)
	ledger.postErrs[2] = fmt.Errorf("malformed response")

	server := contentServer(t, map[string]models.PostContent{
		"/1": {Text: "one"}, "/3": {Text: "three"},
	})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{
		"cid-1": server.URL + "/1",
		"cid-3": server.URL + "/3",
	}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].ID != 3 || posts[1].ID != 1 {
		t.Errorf("got ids %d,%d, want 3,1", posts[0].ID, posts[1].ID)
	}
}

func TestLoadFeedContentFailureIsIsolated(t *testing.T) {
	ledger := newTestLedger(2)
	server := contentServer(t, map[string]models.PostContent{
		"/1": {Text: "intact"},
	})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{
		"cid-1": server.URL + "/1",
		"cid-2": server.URL + "/missing",
	}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}

	// posts[0] is id 2 (failed content), posts[1] is id 1
	if posts[0].Content.Text != "[failed]" {
		t.Errorf("got %q, want fallback text", posts[0].Content.Text)
	}
	if posts[1].Content.Text != "intact" {
		t.Errorf("sibling content affected: got %q", posts[1].Content.Text)
	}
	if posts[0].LikeCount != 2 {
		t.Errorf("ledger fields lost on content fallback")
	}
}

func TestLoadFeedProfileAndCommentFallbacks(t *testing.T) {
	ledger := newTestLedger(1)
	ledger.profiles[addr(1)] = models.Profile{Account: addr(1), Username: "alice", Registered: true}
	ledger.comments[1] = []models.Comment{
		{Author: addr(2), Text: "first", CreatedAt: 1},
		{Author: addr(3), Text: "second", CreatedAt: 2},
	}

	server := contentServer(t, map[string]models.PostContent{"/1": {Text: "post"}})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{"cid-1": server.URL + "/1"}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if posts[0].Profile.Username != "alice" {
		t.Errorf("got username %q", posts[0].Profile.Username)
	}
	if len(posts[0].Comments) != 2 || posts[0].Comments[0].Text != "first" {
		t.Errorf("got comments %+v, want append order preserved", posts[0].Comments)
	}

	// Unknown author degrades to an empty profile, not an error
	ledger.mu.Lock()
	delete(ledger.profiles, addr(1))
	ledger.mu.Unlock()
	posts, err = s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if posts[0].Profile.Username != "" || posts[0].Profile.Registered {
		t.Errorf("got profile %+v, want empty fallback", posts[0].Profile)
	}
	if posts[0].Content.Text != "post" {
		t.Errorf("profile fallback blanked content: %q", posts[0].Content.Text)
	}
}

func TestLoadFeedViewerState(t *testing.T) {
	ledger := newTestLedger(1)
	ledger.liked[1] = true
	ledger.follows[addr(1)] = true

	server := contentServer(t, map[string]models.PostContent{"/1": {Text: "post"}})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{"cid-1": server.URL + "/1"}}
	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())

	// No viewer: zero state
	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if posts[0].Viewer.HasLiked || posts[0].Viewer.IsFollowing {
		t.Errorf("viewer state set without a viewer: %+v", posts[0].Viewer)
	}

	viewer := addr(9)
	posts, err = s.LoadFeed(context.Background(), &viewer)
	if err != nil {
		t.Fatal(err)
	}
	if !posts[0].Viewer.HasLiked || !posts[0].Viewer.IsFollowing {
		t.Errorf("got viewer state %+v", posts[0].Viewer)
	}
}

// A pass for a viewer other than the configured one serves its caller only:
// its entries carry that viewer's like/follow state and must never become
// the shared view or reach subscribers.
func TestViewerPassDoesNotBecomeSharedView(t *testing.T) {
	ledger := newTestLedger(1)
	ledger.liked[1] = true
	server := contentServer(t, map[string]models.PostContent{"/1": {Text: "post"}})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{"cid-1": server.URL + "/1"}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	snapshots, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if _, err := s.LoadFeed(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-snapshots:
	default:
		t.Fatal("shared pass not delivered")
	}

	other := addr(9)
	posts, err := s.LoadFeed(context.Background(), &other)
	if err != nil {
		t.Fatal(err)
	}
	if !posts[0].Viewer.HasLiked {
		t.Error("caller did not get their own viewer state")
	}

	snapshot, epoch := s.Current()
	if epoch != 1 {
		t.Errorf("got epoch %d, want the shared pass to stay current", epoch)
	}
	if snapshot[0].Viewer.HasLiked {
		t.Error("another account's viewer state leaked into the shared view")
	}
	select {
	case <-snapshots:
		t.Error("viewer-specific pass notified subscribers")
	default:
	}
}

func TestConfiguredViewerPassInstalls(t *testing.T) {
	ledger := newTestLedger(1)
	ledger.liked[1] = true
	server := contentServer(t, map[string]models.PostContent{"/1": {Text: "post"}})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{"cid-1": server.URL + "/1"}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	viewer := addr(5)
	s.SetViewer(&viewer)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	snapshot, epoch := s.Current()
	if epoch != 1 {
		t.Fatalf("got epoch %d, want the configured viewer's pass installed", epoch)
	}
	if !snapshot[0].Viewer.HasLiked {
		t.Error("configured viewer's state missing from the shared view")
	}
}

func TestLoadFeedLedgerUnavailable(t *testing.T) {
	ledger := newTestLedger(0)
	ledger.countErr = fmt.Errorf("connection refused")

	s := NewSynchronizer(ledger, &fakeResolver{}, nil, nil, http.DefaultClient)
	if _, err := s.LoadFeed(context.Background(), nil); err == nil {
		t.Error("expected error when the ledger is unreachable")
	}
	if _, epoch := s.Current(); epoch != 0 {
		t.Error("failed pass must not install a snapshot")
	}
}

// A pass that started first but finishes last must not clobber the newer
// snapshot.
func TestLoadFeedEpochSupersession(t *testing.T) {
	ledger := newTestLedger(1)
	ledger.countStarted = make(chan struct{})
	ledger.countRelease = make(chan struct{})

	server := contentServer(t, map[string]models.PostContent{
		"/1": {Text: "one"}, "/2": {Text: "two"},
	})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{
		"cid-1": server.URL + "/1",
		"cid-2": server.URL + "/2",
	}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		s.LoadFeed(context.Background(), nil)
	}()
	<-ledger.countStarted

	// Second pass starts later, sees one more post, completes first
	ledger.mu.Lock()
	ledger.count = 2
	ledger.posts[2] = models.Post{ID: 2, Author: addr(2), ContentAddress: "cid-2", CreatedAt: 2}
	ledger.mu.Unlock()

	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("second pass got %d posts, want 2", len(posts))
	}

	close(ledger.countRelease)
	<-firstDone

	snapshot, epoch := s.Current()
	if epoch != 2 {
		t.Errorf("got epoch %d, want 2", epoch)
	}
	if len(snapshot) != 2 {
		t.Errorf("view rewound to the stale pass: %d posts", len(snapshot))
	}
}

func TestSubscribeDeliversInstalledSnapshots(t *testing.T) {
	ledger := newTestLedger(1)
	server := contentServer(t, map[string]models.PostContent{"/1": {Text: "one"}})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{"cid-1": server.URL + "/1"}}

	s := NewSynchronizer(ledger, resolver, nil, nil, server.Client())
	snapshots, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if _, err := s.LoadFeed(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	select {
	case snapshot := <-snapshots:
		if len(snapshot) != 1 {
			t.Errorf("got %d posts", len(snapshot))
		}
	default:
		t.Error("no snapshot delivered")
	}
}

type countingCache struct {
	mu   sync.Mutex
	hits map[string]int
	data map[string]models.PostContent
}

func (c *countingCache) Get(address string) (bool, models.PostContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.data[address]
	if ok {
		c.hits[address]++
	}
	return ok, content
}

func (c *countingCache) Set(address string, content models.PostContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[address] = content
}

func TestContentCacheShortCircuitsFetch(t *testing.T) {
	ledger := newTestLedger(1)
	server := contentServer(t, map[string]models.PostContent{"/1": {Text: "one"}})
	defer server.Close()
	resolver := &fakeResolver{urls: map[string]string{"cid-1": server.URL + "/1"}}
	cache := &countingCache{hits: make(map[string]int), data: make(map[string]models.PostContent)}

	s := NewSynchronizer(ledger, resolver, cache, nil, server.Client())
	if _, err := s.LoadFeed(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	server.Close() // second pass must not need the gateway
	posts, err := s.LoadFeed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if posts[0].Content.Text != "one" {
		t.Errorf("got %q from cache", posts[0].Content.Text)
	}
	if cache.hits["cid-1"] != 1 {
		t.Errorf("got %d cache hits, want 1", cache.hits["cid-1"])
	}
}
