package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ipfs/go-cid"
	log "github.com/sirupsen/logrus"
)

// Space is an authorization scope uploads are billed against. A session
// must select one before any upload succeeds.
type Space struct {
	DID  string `json:"did"`
	Name string `json:"name"`
}

// Client talks to the content store's HTTP bridge for uploads and session
// RPCs. Read-side address resolution lives on Resolver and never touches
// the bridge.
type Client struct {
	http      *retryablehttp.Client
	bridgeURL string

	mu      sync.RWMutex
	space   string
	account string
}

func NewClient(bridgeURL string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = 3
	return &Client{
		http:      httpClient,
		bridgeURL: bridgeURL,
	}
}

// SetTransport swaps the underlying round tripper. Used by tests to count
// network calls.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.HTTPClient.Transport = rt
}

// CurrentSpace returns the selected space DID, if any.
func (c *Client) CurrentSpace() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.space, c.space != ""
}

// SetCurrentSpace selects the space uploads go to. Last writer wins.
func (c *Client) SetCurrentSpace(spaceDID string) error {
	if spaceDID == "" {
		return fmt.Errorf("empty space DID")
	}
	c.mu.Lock()
	c.space = spaceDID
	c.mu.Unlock()
	return nil
}

// UploadFile stores raw bytes and returns their content address. It fails
// with ErrNoSpaceConfigured before any network I/O when no space is active.
func (c *Client) UploadFile(ctx context.Context, data []byte, contentType string) (string, error) {
	return c.uploadNamed(ctx, data, contentType, "")
}

// UploadJSON serializes v, wraps it as a named JSON blob and uploads it.
func (c *Client) UploadJSON(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling upload: %w", err)
	}
	return c.uploadNamed(ctx, data, "application/json", "data.json")
}

func (c *Client) uploadNamed(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	space, ok := c.CurrentSpace()
	if !ok {
		return "", ErrNoSpaceConfigured
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.bridgeURL+"/upload", data)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Space-DID", space)
	if filename != "" {
		req.Header.Set("X-File-Name", filename)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading to space %s: %w", space, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("uploading to space %s: unexpected status %s", space, resp.Status)
	}

	var result struct {
		Cid string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if _, err := cid.Decode(result.Cid); err != nil {
		return "", fmt.Errorf("bridge returned invalid content address %q: %w", result.Cid, err)
	}
	return result.Cid, nil
}

// PendingAccount is a login that was started but not yet confirmed by the
// identifier's owner.
type PendingAccount struct {
	ID     string
	client *Client
}

// Login sends a login challenge to an email-like identifier. The returned
// account becomes usable once WaitReady resolves.
func (c *Client) Login(ctx context.Context, email string) (*PendingAccount, error) {
	if email == "" {
		return nil, fmt.Errorf("login requires an identifier")
	}

	var result struct {
		Account string `json:"account"`
	}
	if err := c.postJSON(ctx, "/login", map[string]string{"email": email}, &result); err != nil {
		return nil, fmt.Errorf("sending login challenge: %w", err)
	}

	log.Infof("Login challenge sent to %s", email)
	return &PendingAccount{ID: result.Account, client: c}, nil
}

// WaitReady polls the account's authorization state at a fixed interval
// until confirmed or the timeout elapses. Expiry fails with ErrLoginTimeout;
// it never retries past the window.
func (a *PendingAccount) WaitReady(ctx context.Context, interval, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrLoginTimeout
		case <-ticker.C:
			ready, err := a.planReady(ctx)
			if err != nil {
				log.Warningf("Error polling login readiness: %v", err)
				continue
			}
			if ready {
				a.client.mu.Lock()
				a.client.account = a.ID
				a.client.mu.Unlock()
				return nil
			}
		}
	}
}

func (a *PendingAccount) planReady(ctx context.Context) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(
		ctx, http.MethodGet, a.client.bridgeURL+"/account/"+a.ID+"/plan", nil,
	)
	if err != nil {
		return false, err
	}
	resp, err := a.client.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var result struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	return result.Ready, nil
}

// CreateSpace provisions a new named space for the authenticated account.
func (c *Client) CreateSpace(ctx context.Context, name string) (Space, error) {
	var space Space
	if err := c.postJSON(ctx, "/spaces", map[string]string{"name": name}, &space); err != nil {
		return Space{}, fmt.Errorf("creating space %q: %w", name, err)
	}
	return space, nil
}

// ListSpaces returns the spaces the authenticated account can use.
func (c *Client) ListSpaces(ctx context.Context) ([]Space, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.bridgeURL+"/spaces", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing spaces: unexpected status %s", resp.Status)
	}

	var result struct {
		Spaces []Space `json:"spaces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Spaces, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.bridgeURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
