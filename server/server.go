package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"

	"chainfeed/actions"
	"chainfeed/contentstore"
	"chainfeed/ledger"
	"chainfeed/models"
	"chainfeed/monitoring"
	"chainfeed/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// FeedSource is the read side the server exposes.
type FeedSource interface {
	Current() ([]models.EnrichedPost, uint64)
	LoadFeed(ctx context.Context, viewer *common.Address) ([]models.EnrichedPost, error)
	Subscribe() (<-chan []models.EnrichedPost, func())
}

// ActionRunner is the write side.
type ActionRunner interface {
	CreatePost(ctx context.Context, text string, image []byte, imageType string) error
	Like(ctx context.Context, postID uint64) error
	Comment(ctx context.Context, postID uint64, text string) error
	Follow(ctx context.Context, target common.Address) error
	Unfollow(ctx context.Context, target common.Address) error
	RegisterProfile(ctx context.Context, username, bio string, avatar []byte, avatarType string) error
	UpdateProfile(ctx context.Context, username, bio string, avatar []byte, avatarType, keepAvatar string) error
	DeleteProfile(ctx context.Context) error
}

// SessionController is the content-store session surface: interactive
// login, space selection, teardown.
type SessionController interface {
	Session() contentstore.Session
	Authenticate(ctx context.Context, email, spaceName string) error
	UseSpace(spaceDID string) error
	Teardown()
}

type Server struct {
	feed      FeedSource
	actions   ActionRunner
	sessions  SessionController
	spaceName string
	addr      string

	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

func NewServer(feed FeedSource, actionRunner ActionRunner, sessions SessionController, spaceName, addr string) *Server {
	return &Server{
		feed:      feed,
		actions:   actionRunner,
		sessions:  sessions,
		spaceName: spaceName,
		addr:      addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) Run() {
	go s.broadcastSnapshots()

	err := http.ListenAndServe(s.addr, monitoring.NewPrometheusMiddleware(s.routes()))
	if errors.Is(err, http.ErrServerClosed) {
		fmt.Printf("server closed\n")
	} else if err != nil {
		fmt.Printf("error starting server: %s\n", err)
		os.Exit(1)
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.getHealthz)
	mux.HandleFunc("GET /feed", s.getFeed)
	mux.HandleFunc("GET /ws", s.getWebsocket)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /posts", s.postCreatePost)
	mux.HandleFunc("POST /posts/{id}/like", s.postLike)
	mux.HandleFunc("POST /posts/{id}/comments", s.postComment)
	mux.HandleFunc("POST /follow", s.postFollow)
	mux.HandleFunc("POST /unfollow", s.postUnfollow)
	mux.HandleFunc("POST /profile", s.postRegisterProfile)
	mux.HandleFunc("PUT /profile", s.putUpdateProfile)
	mux.HandleFunc("DELETE /profile", s.deleteProfile)
	mux.HandleFunc("GET /session", s.getSession)
	mux.HandleFunc("POST /session/login", s.postLogin)
	mux.HandleFunc("POST /session/space", s.postUseSpace)
	mux.HandleFunc("DELETE /session", s.deleteSession)
	return mux
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.writeSession(w)
}

// postLogin starts the email magic-link login and blocks until the account
// is confirmed or the wait window runs out.
func (s *Server) postLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		sendError(w, http.StatusBadRequest, "login needs an email")
		return
	}
	if err := s.sessions.Authenticate(r.Context(), req.Email, s.spaceName); err != nil {
		sendError(w, statusFor(err), err.Error())
		return
	}
	s.writeSession(w)
}

func (s *Server) postUseSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceDID string `json:"spaceDid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SpaceDID == "" {
		sendError(w, http.StatusBadRequest, "invalid space DID")
		return
	}
	if err := s.sessions.UseSpace(req.SpaceDID); err != nil {
		sendError(w, statusFor(err), err.Error())
		return
	}
	s.writeSession(w)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Teardown()
	s.writeSession(w)
}

func (s *Server) writeSession(w http.ResponseWriter) {
	session := s.sessions.Session()
	w.Header().Set("Content-Type", "application/json")
	w.Write(utils.ToJson(map[string]any{
		"spaceDid":      session.SpaceDID,
		"authenticated": session.Authenticated,
	}))
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(utils.ToJson(map[string]string{"status": "ok"}))
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	queryParams := r.URL.Query()
	viewerStr := getQueryItem(queryParams, "viewer")

	var viewer *common.Address
	if *viewerStr != "" {
		if !common.IsHexAddress(*viewerStr) {
			sendError(w, http.StatusBadRequest, "invalid viewer param")
			return
		}
		address := common.HexToAddress(*viewerStr)
		viewer = &address
	}

	// A viewer-specific request always re-synchronizes: viewer state is
	// derived per pass and never served stale.
	if viewer != nil {
		posts, err := s.feed.LoadFeed(r.Context(), viewer)
		if err != nil {
			sendError(w, statusFor(err), err.Error())
			return
		}
		s.writeFeed(w, posts)
		return
	}

	posts, epoch := s.feed.Current()
	if epoch == 0 {
		var err error
		posts, err = s.feed.LoadFeed(r.Context(), nil)
		if err != nil {
			sendError(w, statusFor(err), err.Error())
			return
		}
	}
	s.writeFeed(w, posts)
}

func (s *Server) writeFeed(w http.ResponseWriter, posts []models.EnrichedPost) {
	if posts == nil {
		posts = []models.EnrichedPost{}
	}
	w.Write(utils.ToJson(map[string]any{"posts": posts}))
}

type createPostRequest struct {
	Text      string `json:"text"`
	Image     string `json:"image"` // base64
	ImageType string `json:"imageType"`
}

func (s *Server) postCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && req.Image == "" {
		sendError(w, http.StatusBadRequest, "post needs text or an image")
		return
	}

	var image []byte
	if req.Image != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid image encoding")
			return
		}
		image = decoded
	}

	s.runAction(w, func() error {
		return s.actions.CreatePost(r.Context(), req.Text, image, req.ImageType)
	})
}

func (s *Server) postLike(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || postID == 0 {
		sendError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	s.runAction(w, func() error {
		return s.actions.Like(r.Context(), postID)
	})
}

func (s *Server) postComment(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || postID == 0 {
		sendError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		sendError(w, http.StatusBadRequest, "comment needs text")
		return
	}
	s.runAction(w, func() error {
		return s.actions.Comment(r.Context(), postID, req.Text)
	})
}

func (s *Server) postFollow(w http.ResponseWriter, r *http.Request) {
	target, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	s.runAction(w, func() error {
		return s.actions.Follow(r.Context(), target)
	})
}

func (s *Server) postUnfollow(w http.ResponseWriter, r *http.Request) {
	target, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	s.runAction(w, func() error {
		return s.actions.Unfollow(r.Context(), target)
	})
}

func (s *Server) decodeTarget(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !common.IsHexAddress(req.Target) {
		sendError(w, http.StatusBadRequest, "invalid target address")
		return common.Address{}, false
	}
	return common.HexToAddress(req.Target), true
}

type profileRequest struct {
	Username   string `json:"username"`
	Bio        string `json:"bio"`
	Avatar     string `json:"avatar"` // base64
	AvatarType string `json:"avatarType"`
	KeepAvatar string `json:"keepAvatar"`
}

func (s *Server) postRegisterProfile(w http.ResponseWriter, r *http.Request) {
	req, avatar, ok := s.decodeProfile(w, r)
	if !ok {
		return
	}
	s.runAction(w, func() error {
		return s.actions.RegisterProfile(r.Context(), req.Username, req.Bio, avatar, req.AvatarType)
	})
}

func (s *Server) putUpdateProfile(w http.ResponseWriter, r *http.Request) {
	req, avatar, ok := s.decodeProfile(w, r)
	if !ok {
		return
	}
	s.runAction(w, func() error {
		return s.actions.UpdateProfile(r.Context(), req.Username, req.Bio, avatar, req.AvatarType, req.KeepAvatar)
	})
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, func() error {
		return s.actions.DeleteProfile(r.Context())
	})
}

func (s *Server) decodeProfile(w http.ResponseWriter, r *http.Request) (profileRequest, []byte, bool) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return profileRequest{}, nil, false
	}

	var avatar []byte
	if req.Avatar != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Avatar)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid avatar encoding")
			return profileRequest{}, nil, false
		}
		avatar = decoded
	}
	return req, avatar, true
}

func (s *Server) runAction(w http.ResponseWriter, action func() error) {
	if err := action(); err != nil {
		sendError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(utils.ToJson(map[string]string{"status": "confirmed"}))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNoSigner):
		return http.StatusUnauthorized
	case errors.Is(err, actions.ErrActionInFlight):
		return http.StatusConflict
	case errors.Is(err, contentstore.ErrNoSpaceConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, contentstore.ErrLoginTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrTxReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTxRejected),
		errors.Is(err, ledger.ErrSubmissionFailed),
		errors.Is(err, ledger.ErrLedgerUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Error upgrading websocket: %v", err)
		return
	}

	// The initial write and the registration happen under connsMu: the
	// broadcaster writes while holding it, and gorilla allows only one
	// concurrent writer per conn.
	s.connsMu.Lock()
	if posts, epoch := s.feed.Current(); epoch > 0 {
		conn.WriteJSON(map[string]any{"posts": posts})
	}
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	go func() {
		defer func() {
			s.connsMu.Lock()
			delete(s.conns, conn)
			s.connsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) broadcastSnapshots() {
	snapshots, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()

	for snapshot := range snapshots {
		payload := map[string]any{"posts": snapshot}

		s.connsMu.Lock()
		for conn := range s.conns {
			if err := conn.WriteJSON(payload); err != nil {
				log.Warningf("Error pushing snapshot: %v", err)
				conn.Close()
				delete(s.conns, conn)
			}
		}
		s.connsMu.Unlock()
	}
}
