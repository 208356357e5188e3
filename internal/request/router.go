// Package request handles one-shot data fetches against the upstream
// REST surface, decoupled from the streaming path. Requests are never
// auto-retried; failures go straight back to the caller.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request sources.
const (
	SourcePrimary = "primary-provider"
	SourceCache   = "cache"
	SourceDerived = "derived-calculation"
)

// Reserved params keys consumed by the router itself; everything else
// becomes a query parameter.
const (
	paramEndpoint = "endpoint"
	paramMethod   = "method"
	paramData     = "data"
)

// Errors
var (
	ErrUnknownSource    = errors.New("unknown request source")
	ErrRequestTimeout   = errors.New("request timeout")
	ErrCacheUnavailable = errors.New("cache not configured")
	ErrMissingSymbol    = errors.New("params.symbol is required")
	ErrUnknownCalc      = errors.New("unknown calculation")
	errDoubleResolution = errors.New("pending request resolved twice")
)

// UpstreamError carries a non-2xx upstream response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Body)
}

// Params is the caller-supplied request parameter bag. The endpoint,
// method and data keys are consumed by the router; remaining entries
// are encoded as query parameters.
type Params map[string]any

// LatestStore is the slice of the cache the router reads from.
type LatestStore interface {
	GetLatest(ctx context.Context, symbol string) ([]byte, error)
}

// Config tunes the router.
type Config struct {
	BaseURL string // upstream REST base, e.g. http://127.0.0.1:8200
	APIKey  string
	Timeout time.Duration // per-request ceiling
}

// pending tracks one in-flight operation. Exactly one resolution is
// recorded per operation; a second is a bug and is logged loudly.
type pending struct {
	resolved bool
}

// Router dispatches one-shot requests by source.
type Router struct {
	cfg    Config
	http   *http.Client
	store  LatestStore
	logger *slog.Logger

	// abort is closed (with cause) on shutdown so in-flight requests
	// resolve instead of hanging.
	abortCtx    context.Context
	abortCancel context.CancelCauseFunc

	mu      sync.Mutex
	pending map[string]*pending
	wg      sync.WaitGroup
}

// NewRouter creates a request router. store may be nil when no cache is
// configured; cache and derived-calculation sources then fail.
func NewRouter(cfg Config, store LatestStore, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	abortCtx, abortCancel := context.WithCancelCause(context.Background())
	return &Router{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		store:       store,
		logger:      logger,
		abortCtx:    abortCtx,
		abortCancel: abortCancel,
		pending:     make(map[string]*pending),
	}
}

// PendingCount returns the number of in-flight operations.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Abort resolves every current and future request with cause.
func (r *Router) Abort(cause error) {
	r.abortCancel(cause)
}

// Drain waits for all in-flight operations to resolve, bounded by ctx.
func (r *Router) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health probes upstream reachability via the REST health endpoint.
func (r *Router) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe: status %d", resp.StatusCode)
	}
	return nil
}

// Do performs a one-shot request against the named source. The result
// is the raw JSON payload. Exceeding the configured ceiling fails with
// ErrRequestTimeout and the operation is abandoned, never retried.
func (r *Router) Do(ctx context.Context, source string, params Params) (json.RawMessage, error) {
	opID := uuid.NewString()

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(r.abortCtx, cancel)
	defer stop()

	r.begin(opID)

	var result json.RawMessage
	var err error

	switch source {
	case SourcePrimary:
		result, err = r.fetchPrimary(reqCtx, params)
	case SourceCache:
		result, err = r.fetchCache(reqCtx, params)
	case SourceDerived:
		result, err = r.fetchDerived(reqCtx, params)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	err = r.mapContextError(reqCtx, err)
	r.finish(opID, err)
	return result, err
}

// mapContextError translates context cancellation into the router's
// error taxonomy: ceiling hits become ErrRequestTimeout, shutdown
// aborts surface their cause.
func (r *Router) mapContextError(reqCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cause := context.Cause(r.abortCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		if errors.Is(err, context.Canceled) || errors.Is(reqCtx.Err(), context.Canceled) {
			return cause
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return ErrRequestTimeout
	}
	return err
}

// begin registers a pending operation.
func (r *Router) begin(opID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[opID] = &pending{}
	r.wg.Add(1)
}

// finish records the single resolution of an operation.
func (r *Router) finish(opID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[opID]
	if !ok || p.resolved {
		r.logger.Error("request resolution bug", "operation_id", opID, "error", errDoubleResolution)
		return
	}
	p.resolved = true
	delete(r.pending, opID)
	r.wg.Done()

	if err != nil {
		r.logger.Debug("request resolved with error", "operation_id", opID, "error", err)
	}
}

// fetchPrimary forwards the request to the upstream REST surface.
func (r *Router) fetchPrimary(ctx context.Context, params Params) (json.RawMessage, error) {
	endpoint, _ := params[paramEndpoint].(string)
	if endpoint == "" {
		return nil, errors.New("params.endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	method := http.MethodGet
	if m, ok := params[paramMethod].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	query := url.Values{}
	for k, v := range params {
		if k == paramEndpoint || k == paramMethod || k == paramData {
			continue
		}
		query.Set(k, fmt.Sprint(v))
	}

	fullURL := r.cfg.BaseURL + "/api/v1" + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if data, ok := params[paramData]; ok && data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// fetchCache serves the latest cached payload for params.symbol.
func (r *Router) fetchCache(ctx context.Context, params Params) (json.RawMessage, error) {
	if r.store == nil {
		return nil, ErrCacheUnavailable
	}
	symbol, _ := params["symbol"].(string)
	if symbol == "" {
		return nil, ErrMissingSymbol
	}
	return r.store.GetLatest(ctx, symbol)
}

// derivedQuote is the subset of a cached payload the calculations use.
type derivedQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// fetchDerived computes a value from the cached latest quote.
func (r *Router) fetchDerived(ctx context.Context, params Params) (json.RawMessage, error) {
	if r.store == nil {
		return nil, ErrCacheUnavailable
	}
	symbol, _ := params["symbol"].(string)
	if symbol == "" {
		return nil, ErrMissingSymbol
	}
	calc, _ := params["calc"].(string)

	data, err := r.store.GetLatest(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var quote derivedQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, fmt.Errorf("parse cached quote for %s: %w", symbol, err)
	}

	var value float64
	switch calc {
	case "mid":
		value = (quote.Bid + quote.Ask) / 2
	case "spread":
		value = quote.Ask - quote.Bid
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalc, calc)
	}

	out, err := json.Marshal(map[string]any{
		"symbol": symbol,
		"calc":   calc,
		"value":  value,
	})
	if err != nil {
		return nil, fmt.Errorf("encode derived result: %w", err)
	}
	return out, nil
}
