// Package media is the client of the media gateway: the HTTP service that
// fronts speech synthesis, transcription, image generation and video
// composition.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"
)

// DefaultTimeout bounds one gateway request when the caller's context has no
// earlier deadline.
const DefaultTimeout = 5 * time.Minute

// IdempotencyHeader carries the per-stage request key.
const IdempotencyHeader = "Idempotency-Key"

const (
	tokenIssuer   = "reel-forge"
	tokenAudience = "media-gateway"
	tokenTTL      = 5 * time.Minute
	maxErrorBody  = 4 << 10
)

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	Method     string
	Path       string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("media gateway %s %s: HTTP %d", e.Method, e.Path, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// StatusCode exposes the HTTP status for error classification.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// APIKey is sent as a static bearer token when SigningKey is empty.
	APIKey string
	// SigningKey signs a short-lived HS256 token per request.
	SigningKey string
	// IdempotencyKeys sends Idempotency-Key headers derived from the run.
	IdempotencyKeys bool
	HTTPClient      *http.Client
	// Now is used for token timestamps.
	Now func() time.Time
}

// Client calls the media gateway.
type Client struct {
	baseURL    string
	apiKey     string
	signingKey []byte
	idempotent bool
	http       *http.Client
	now        func() time.Time
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("media gateway base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		idempotent: opts.IdempotencyKeys,
		http:       opts.HTTPClient,
		now:        opts.Now,
	}
	if opts.SigningKey != "" {
		c.signingKey = []byte(opts.SigningKey)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Idempotent reports whether repeated requests for the same stage are
// deduplicated by the gateway.
func (c *Client) Idempotent() bool {
	return c.idempotent
}

// post sends in as JSON to path and decodes the response into out. suffix
// distinguishes several requests made by one stage (one per scene).
func (c *Client) post(ctx context.Context, path, suffix string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fault.Fatal(fmt.Errorf("encode %s request: %w", path, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fault.Fatal(fmt.Errorf("build %s request: %w", path, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	ri, hasRun := stage.RunInfoFrom(ctx)
	if c.idempotent && hasRun {
		key := ri.IdempotencyKey()
		if suffix != "" {
			key += ":" + suffix
		}
		req.Header.Set(IdempotencyHeader, key)
	}
	if err := c.authorize(req, ri); err != nil {
		return err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("media gateway %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     http.MethodPost,
			Path:       path,
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fault.Fatal(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request, ri stage.RunInfo) error {
	switch {
	case len(c.signingKey) > 0:
		token, err := c.sign(ri)
		if err != nil {
			return fault.Fatal(fmt.Errorf("sign gateway token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return nil
}

// Claims are the gateway token claims. Run and stage let the gateway
// attribute cost per run.
type Claims struct {
	RunID   string `json:"run_id,omitempty"`
	StageID string `json:"stage_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Client) sign(ri stage.RunInfo) (string, error) {
	now := c.now()
	claims := Claims{
		RunID:   ri.RunID,
		StageID: ri.StageID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
}

// ParseToken verifies a gateway token. The gateway side uses it; tests use
// it to check what the client sent.
func ParseToken(token string, key []byte, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
