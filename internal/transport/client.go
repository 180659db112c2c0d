package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-pedidos-client/internal/config"
	"github.com/tbourn/go-pedidos-client/internal/observability"
)

// HeaderIdempotencyKey is attached to every write so a retried call can be
// recognized by the backend.
const HeaderIdempotencyKey = "Idempotency-Key"

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// TokenSource yields the current bearer token, or "" when logged out.
type TokenSource interface {
	Token(ctx context.Context) string
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func(ctx context.Context) string

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) string { return f(ctx) }

// Client is the request/response half of the transport.
type Client struct {
	base    string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	log     zerolog.Logger

	maxUpload int64
}

// NewClient builds a client for the backend described by cfg. A zero
// OutboundRPS disables client-side rate limiting.
func NewClient(cfg config.BackendConfig, tokens TokenSource) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.OutboundRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.OutboundRPS), max(cfg.OutboundBurst, 1))
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:      strings.TrimRight(cfg.APIURL, "/"),
		http:      &http.Client{Timeout: timeout},
		tokens:    tokens,
		limiter:   lim,
		log:       log.With().Str("component", "transport").Logger(),
		maxUpload: cfg.MaxUploadBytes,
	}
}

// WithHTTPClient replaces the underlying http.Client (tests use this to
// point at an httptest server with custom timeouts).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// request describes one call.
type request struct {
	op     string // metric/span label
	method string
	path   string
	body   io.Reader
	ctype  string
	auth   bool
}

// Do issues a JSON call with bearer auth and decodes the response into out
// (which may be nil). in is encoded as the request body when non-nil.
func (c *Client) Do(ctx context.Context, op, method, path string, in, out any) error {
	req := request{op: op, method: method, path: path, auth: true}
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		req.body = bytes.NewReader(raw)
		req.ctype = "application/json"
	}
	return c.send(ctx, req, out)
}

func (c *Client) send(ctx context.Context, r request, out any) (err error) {
	ctx, span := otel.Tracer("transport/Client").Start(ctx, r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.route", r.path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var token string
	if r.auth {
		token = c.tokenOf(ctx)
		if token == "" {
			observability.APIRequests.WithLabelValues(r.op, "no_token").Inc()
			return ErrNoToken
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		observability.APIRequests.WithLabelValues(r.op, "error").Inc()
		return err
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, r.body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.method != http.MethodGet && r.method != http.MethodHead {
		req.Header.Set(HeaderIdempotencyKey, uuid.NewString())
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.APILatency.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.APIRequests.WithLabelValues(r.op, "error").Inc()
		c.log.Warn().Err(err).Str("op", r.op).Str("path", r.path).Msg("backend call failed")
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
		outcome := "http_4xx"
		if resp.StatusCode >= 500 {
			outcome = "http_5xx"
		}
		observability.APIRequests.WithLabelValues(r.op, outcome).Inc()
		c.log.Warn().Int("status", resp.StatusCode).Str("op", r.op).Str("path", r.path).
			Str("message", apiErr.Message).Msg("backend call rejected")
		return apiErr
	}
	observability.APIRequests.WithLabelValues(r.op, "ok").Inc()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		c.log.Warn().Err(err).Str("op", r.op).Msg("undecodable backend payload")
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, r.op, err)
	}
	return nil
}

func (c *Client) tokenOf(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	return strings.TrimSpace(c.tokens.Token(ctx))
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var env struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &env) != nil {
		return ""
	}
	for _, field := range []json.RawMessage{env.Message, env.Error} {
		var s string
		if len(field) > 0 && json.Unmarshal(field, &s) == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// pathID escapes a caller-supplied identifier for use as a path segment.
func pathID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
