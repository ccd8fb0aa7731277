package spec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Fetcher configuration constants.
const (
	// defaultBaseURL is the public MIoT spec service.
	defaultBaseURL = "https://miot-spec.org/miot-spec-v2"

	// defaultFetchTimeout bounds each HTTP request to the spec service.
	defaultFetchTimeout = 10 * time.Second
)

// Cache persists raw spec documents keyed by device model.
// Implemented by SQLiteRepository; a nil cache disables caching.
type Cache interface {
	// Get returns the cached raw spec for a model.
	// Returns ErrSpecNotFound if no entry exists.
	Get(ctx context.Context, model string) ([]byte, error)

	// Put stores the raw spec for a model, replacing any existing entry.
	Put(ctx context.Context, model, urn string, raw []byte) error

	// Delete removes the entry for a model, if any.
	Delete(ctx context.Context, model string) error
}

// Fetcher retrieves capability specs from the vendor spec service,
// consulting the cache first so devices can be set up while offline.
//
// The adapter only requires a parsed tree; nothing downstream depends on
// the fetch mechanism.
type Fetcher struct {
	baseURL string
	client  *http.Client
	cache   Cache
	logger  Logger
}

// NewFetcher creates a fetcher against the public spec service.
//
// Parameters:
//   - cache: Optional spec cache (nil disables caching)
func NewFetcher(cache Cache) *Fetcher {
	return &Fetcher{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultFetchTimeout},
		cache:   cache,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for fetch diagnostics.
func (f *Fetcher) SetLogger(logger Logger) {
	f.logger = logger
}

// SetBaseURL overrides the spec service URL. Used in tests.
func (f *Fetcher) SetBaseURL(base string) {
	f.baseURL = base
}

// instanceEntry is one row of the spec service's instance index.
type instanceEntry struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Version int    `json:"version"`
	Type    string `json:"type"`
}

// instanceIndex is the spec service's model -> type URN index.
type instanceIndex struct {
	Instances []instanceEntry `json:"instances"`
}

// Fetch returns the capability spec for a device model.
//
// Resolution order:
//  1. Cache lookup by model (a corrupt entry is evicted and re-fetched)
//  2. Instance index lookup (model -> type URN, highest version wins)
//  3. Instance document fetch by URN, stored in the cache on success
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - model: Device model identifier (e.g., "zhimi.fan.za5")
//
// Returns:
//   - *Document: Parsed capability spec
//   - error: ErrSpecNotFound if the model is unknown, ErrFetchFailed on
//     network failure
func (f *Fetcher) Fetch(ctx context.Context, model string) (*Document, error) {
	if f.cache != nil {
		raw, err := f.cache.Get(ctx, model)
		switch {
		case err == nil:
			doc, perr := ParseDocument(raw)
			if perr == nil {
				return doc, nil
			}
			// A corrupt entry would fail every fetch for this model;
			// evict it and fall through to the remote fetch.
			f.logger.Warn("corrupt spec cache entry, refetching", "model", model, "error", perr)
			if derr := f.cache.Delete(ctx, model); derr != nil && !errors.Is(derr, ErrSpecNotFound) {
				f.logger.Warn("spec cache delete failed", "model", model, "error", derr)
			}
		case !errors.Is(err, ErrSpecNotFound):
			// Cache failure degrades to a remote fetch.
			f.logger.Warn("spec cache read failed", "model", model, "error", err)
		}
	}

	urn, err := f.resolveType(ctx, model)
	if err != nil {
		return nil, err
	}

	raw, err := f.get(ctx, "/instance", url.Values{"type": {urn}})
	if err != nil {
		return nil, err
	}

	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Put(ctx, model, urn, raw); err != nil {
			f.logger.Warn("spec cache write failed", "model", model, "error", err)
		}
	}
	return doc, nil
}

// resolveType looks up the type URN for a model in the instance index.
// When multiple released versions exist, the highest wins.
func (f *Fetcher) resolveType(ctx context.Context, model string) (string, error) {
	raw, err := f.get(ctx, "/instances", url.Values{"status": {"released"}})
	if err != nil {
		return "", err
	}

	var index instanceIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return "", fmt.Errorf("%w: instance index: %w", ErrMalformedSpec, err)
	}

	best := instanceEntry{Version: -1}
	for _, entry := range index.Instances {
		if entry.Model == model && entry.Version > best.Version {
			best = entry
		}
	}
	if best.Version < 0 {
		return "", fmt.Errorf("%w: model %q", ErrSpecNotFound, model)
	}
	return best.Type, nil
}

// get performs one GET against the spec service.
func (f *Fetcher) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := f.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close on read path

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: spec service returned %d", ErrFetchFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrFetchFailed, err)
	}
	return raw, nil
}
