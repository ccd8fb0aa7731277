// Package cloud implements the signed REST protocol used to operate
// devices through the vendor cloud when local access is unavailable.
//
// Every request is a form POST carrying a payload signature derived from
// a rotating nonce and the login session's ssecurity key. Three verbs are
// exposed: batched property get, batched property set, and action
// invocation. Per-item result codes inside a response are classified by
// the synchronization engine; a top-level error code or an "auth err"
// message invalidates the whole auth context.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/miot-core/internal/miot/proto"
)

// Cloud API constants.
const (
	// regionCN is the home region; it omits the subdomain prefix.
	regionCN = "cn"

	// defaultTimeout bounds each HTTP round trip.
	defaultTimeout = 10 * time.Second

	// DefaultBatchLimit caps properties per request. The API accepts
	// larger batches but capping bounds payload size.
	DefaultBatchLimit = 100

	// getRetries is how many times the property-get endpoint is retried
	// on network failure. Other verbs fail fast; retrying a set or an
	// action could repeat a side effect.
	getRetries = 3

	// API paths.
	propGetPath = "/miotspec/prop/get"
	propSetPath = "/miotspec/prop/set"
	actionPath  = "/miotspec/action"

	// userAgent mimics the vendor app; some endpoints reject unknown agents.
	userAgent = "iOS-14.4-6.0.103-iPhone12,3--D7744744F7AF32F0544445285880DD63E47D9BE9-8816080-84A3F44E137B71AE-iPhone"
)

// AuthContext is the rotating authentication context shared by every
// device session under one account.
//
// It is created by Login and invalidated on an explicit authentication
// error; once invalid every call fails with ErrAuthInvalid until the
// caller re-logs-in.
type AuthContext struct {
	UserID       string
	ServiceToken string
	SSecurity    string
	Region       string

	mu      sync.RWMutex
	invalid bool
}

// Valid reports whether the context is still usable.
func (a *AuthContext) Valid() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.invalid
}

// invalidate marks the context unusable.
func (a *AuthContext) invalidate() {
	a.mu.Lock()
	a.invalid = true
	a.mu.Unlock()
}

// Client performs signed API calls. Stateless per call except for the
// shared auth context; safe for concurrent use.
type Client struct {
	auth       *AuthContext
	httpClient *http.Client
	baseURL    string // overrides region-derived URL in tests
	batchLimit int
}

// envelope is the API's top-level response shape.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// NewClient creates a client bound to an auth context.
func NewClient(auth *AuthContext) *Client {
	return &Client{
		auth:       auth,
		httpClient: &http.Client{Timeout: defaultTimeout},
		batchLimit: DefaultBatchLimit,
	}
}

// SetBaseURL overrides the regional endpoint. Used in tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// MaxBatch returns the per-request property cap.
func (c *Client) MaxBatch() int {
	return c.batchLimit
}

// apiURL builds the regional endpoint for an API path.
//
// Region "cn" uses the bare host; other regions prefix their code.
func (c *Client) apiURL(path string) string {
	if c.baseURL != "" {
		return c.baseURL + path
	}
	if c.auth.Region == "" || c.auth.Region == regionCN {
		return "https://api.io.mi.com/app" + path
	}
	return fmt.Sprintf("https://%s.api.io.mi.com/app%s", c.auth.Region, path)
}

// GetProperties reads a batch of properties through the cloud.
//
// Network failures are retried up to 3 times with no added backoff; the
// natural poll interval bounds retry cost. Per-item failures are result
// codes, not errors.
func (c *Client) GetProperties(ctx context.Context, reqs []proto.PropertyRequest) ([]proto.PropertyValue, error) {
	payload, err := json.Marshal(map[string]any{"params": reqs})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	var result json.RawMessage
	var lastErr error
	for attempt := 0; attempt < getRetries; attempt++ {
		result, lastErr = c.request(ctx, propGetPath, string(payload))
		if lastErr == nil {
			break
		}
		// Auth errors will not heal on retry.
		if !isTransient(lastErr) {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	var values []proto.PropertyValue
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, fmt.Errorf("unmarshalling result: %w", err)
	}
	return values, nil
}

// SetProperties writes a batch of properties through the cloud.
// Fails fast on network errors; a retry could repeat the write.
func (c *Client) SetProperties(ctx context.Context, reqs []proto.SetRequest) ([]proto.PropertyValue, error) {
	payload, err := json.Marshal(map[string]any{"params": reqs})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	result, err := c.request(ctx, propSetPath, string(payload))
	if err != nil {
		return nil, err
	}

	var values []proto.PropertyValue
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, fmt.Errorf("unmarshalling result: %w", err)
	}
	return values, nil
}

// InvokeAction invokes one action through the cloud.
func (c *Client) InvokeAction(ctx context.Context, req proto.ActionRequest) (proto.ActionResult, error) {
	payload, err := json.Marshal(map[string]any{"params": req})
	if err != nil {
		return proto.ActionResult{}, fmt.Errorf("marshalling request: %w", err)
	}

	result, err := c.request(ctx, actionPath, string(payload))
	if err != nil {
		return proto.ActionResult{}, err
	}

	var out proto.ActionResult
	if err := json.Unmarshal(result, &out); err != nil {
		return proto.ActionResult{}, fmt.Errorf("unmarshalling result: %w", err)
	}
	return out, nil
}

// request performs one signed form POST and unwraps the envelope.
func (c *Client) request(ctx context.Context, path, payload string) (json.RawMessage, error) {
	if !c.auth.Valid() {
		return nil, ErrAuthInvalid
	}

	nonce, err := generateNonce(time.Now())
	if err != nil {
		return nil, err
	}
	signed, err := signedNonce(c.auth.SSecurity, nonce)
	if err != nil {
		return nil, err
	}
	signature, err := signRequest(path, signed, nonce, payload)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"signature": {signature},
		"_nonce":    {nonce},
		"data":      {payload},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
	req.AddCookie(&http.Cookie{Name: "userId", Value: c.auth.UserID})
	req.AddCookie(&http.Cookie{Name: "serviceToken", Value: c.auth.ServiceToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close on read path

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.auth.invalidate()
		return nil, fmt.Errorf("%w: http %d", ErrAuthInvalid, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", ErrRequestFailed, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}

	// Any non-zero top-level code taints the auth context. The API
	// reports session problems through several codes, not only the
	// "auth err" message, and a fresh login is the only recovery.
	if env.Code != 0 || env.Message == "auth err" {
		c.auth.invalidate()
		if env.Message == "auth err" {
			return nil, fmt.Errorf("%w: %s", ErrAuthInvalid, env.Message)
		}
		return nil, fmt.Errorf("%w: code %d: %s", ErrAPIError, env.Code, env.Message)
	}
	return env.Result, nil
}

// isTransient reports whether an error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAuthInvalid) && !errors.Is(err, ErrAPIError)
}
