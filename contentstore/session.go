package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const spaceStateFile = "space_did"

// Session is the capability state required before uploads succeed. Reads
// never need one.
type Session struct {
	SpaceDID      string
	Authenticated bool
}

// SessionManager owns the client's session lifecycle: startup recovery of a
// persisted space, interactive login, and space selection. One instance per
// process; last writer wins on space selection.
type SessionManager struct {
	client   *Client
	stateDir string

	configuredSpace string
	loginInterval   time.Duration
	loginTimeout    time.Duration
}

func NewSessionManager(client *Client, stateDir, configuredSpace string, loginInterval, loginTimeout time.Duration) *SessionManager {
	return &SessionManager{
		client:          client,
		stateDir:        stateDir,
		configuredSpace: configuredSpace,
		loginInterval:   loginInterval,
		loginTimeout:    loginTimeout,
	}
}

// Session reports the current session state.
func (m *SessionManager) Session() Session {
	space, ok := m.client.CurrentSpace()
	if !ok {
		return Session{}
	}
	m.client.mu.RLock()
	authenticated := m.client.account != ""
	m.client.mu.RUnlock()
	return Session{SpaceDID: space, Authenticated: authenticated}
}

// Init establishes a space without user interaction: a statically configured
// space first, then a previously persisted one. Absence of both is not an
// error, just a reduced-capability state where uploads fail fast until
// Authenticate or UseSpace succeeds.
func (m *SessionManager) Init() error {
	if m.configuredSpace != "" {
		if err := m.client.SetCurrentSpace(m.configuredSpace); err != nil {
			return err
		}
		log.Infof("Content store space set from configuration: %s", m.configuredSpace)
		return nil
	}

	persisted, err := m.loadPersistedSpace()
	if err != nil {
		return err
	}
	if persisted != "" {
		if err := m.client.SetCurrentSpace(persisted); err != nil {
			return err
		}
		log.Infof("Content store space recovered from state: %s", persisted)
		return nil
	}

	log.Warning("No content store space configured; uploads will fail until a session is established")
	return nil
}

// Authenticate runs the interactive flow: send a login challenge, poll until
// the identifier's owner confirms, then create or select the named space.
func (m *SessionManager) Authenticate(ctx context.Context, email, spaceName string) error {
	account, err := m.client.Login(ctx, email)
	if err != nil {
		return err
	}
	if err := account.WaitReady(ctx, m.loginInterval, m.loginTimeout); err != nil {
		return err
	}
	return m.ensureSpace(ctx, spaceName)
}

// UseSpace selects a known space directly and persists it.
func (m *SessionManager) UseSpace(spaceDID string) error {
	if err := m.client.SetCurrentSpace(spaceDID); err != nil {
		return err
	}
	m.persistSpace(spaceDID)
	return nil
}

// Teardown drops the session. Uploads fail fast afterwards; reads are
// unaffected.
func (m *SessionManager) Teardown() {
	m.client.mu.Lock()
	m.client.space = ""
	m.client.account = ""
	m.client.mu.Unlock()
}

// ensureSpace creates the named space, falling back to the account's
// existing spaces when creation is refused (typically: already exists). The
// name match wins, then the first available space; with neither, the
// original creation error surfaces.
func (m *SessionManager) ensureSpace(ctx context.Context, name string) error {
	space, createErr := m.client.CreateSpace(ctx, name)
	if createErr == nil {
		return m.UseSpace(space.DID)
	}

	spaces, listErr := m.client.ListSpaces(ctx)
	if listErr != nil {
		log.Errorf("Error listing spaces after failed creation: %v", listErr)
		return createErr
	}

	var found *Space
	for i := range spaces {
		if spaces[i].Name == name {
			found = &spaces[i]
			break
		}
	}
	if found == nil && len(spaces) > 0 {
		found = &spaces[0]
	}
	if found == nil {
		return createErr
	}
	return m.UseSpace(found.DID)
}

func (m *SessionManager) loadPersistedSpace() (string, error) {
	if m.stateDir == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(m.stateDir, spaceStateFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading persisted space: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *SessionManager) persistSpace(spaceDID string) {
	if m.stateDir == "" {
		return
	}
	if err := os.MkdirAll(m.stateDir, 0o700); err != nil {
		log.Errorf("Error creating state dir: %v", err)
		return
	}
	err := os.WriteFile(filepath.Join(m.stateDir, spaceStateFile), []byte(spaceDID+"\n"), 0o600)
	if err != nil {
		log.Errorf("Error persisting space DID: %v", err)
	}
}
