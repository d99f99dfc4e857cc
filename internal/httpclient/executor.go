package httpclient

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

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/pipeline"
	"github.com/shopforge/portal-agent/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// StatusError is a non-2xx upstream response handed back without interpretation.
type StatusError struct {
	Tag    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Tag, e.Status)
}

// Executor sends rate-limited requests to one base URL. Server errors are
// retried up to retryMax times; every other failure is returned as is.
type Executor struct {
	logger   *zap.Logger
	base     *url.URL
	rateMgr  *rate.Manager
	http     *http.Client
	retryMax int
	tag      string
}

// New creates an Executor for baseURL. rateMgr may be nil; requests are then
// never throttled. The rate limit key is the base URL host.
func New(
	logger *zap.Logger,
	baseURL string,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	tag string,
) (*Executor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		base:     base,
		rateMgr:  rateMgr,
		http:     httpClient,
		retryMax: retryMax,
		tag:      tag,
	}, nil
}

// Resolve joins path (relative to the base URL, query allowed) onto the base URL.
func (e *Executor) Resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	base := *e.base
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref), nil
}

// Do sends req once after waiting for the rate limiter. The response is
// returned whatever its status; the caller owns the body.
func (e *Executor) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := e.http.Do(req.WithContext(ctx))
	if err != nil {
		e.logger.Warn(e.tag+".http_failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err))
		return nil, err
	}
	e.logger.Debug(e.tag+".http_done",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// Call sends a request with in encoded as the JSON body (nil for none) and
// returns the 2xx response body. Non-2xx responses become *StatusError.
func (e *Executor) Call(ctx context.Context, method, path string, in any) ([]byte, error) {
	target, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if in != nil {
		if payload, err = json.Marshal(in); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := newRequest(ctx, method, target.String(), payload)
		if err != nil {
			return nil, err
		}
		resp, err := e.Do(ctx, req)
		if err != nil {
			if !retryable(ctx, err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt))
			lastErr = &StatusError{Tag: e.tag, Status: resp.StatusCode, Body: body}
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, &StatusError{Tag: e.tag, Status: resp.StatusCode, Body: body}
		}
		return body, nil
	}

	if e.retryMax == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s request failed after %d retries: %w", e.tag, e.retryMax, lastErr)
}

// DoJSON is Call followed by decoding the response body into out (skipped when out is nil).
func (e *Executor) DoJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := e.Call(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		e.logger.Warn(e.tag+".decode_failed",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("decode failed: %w", err)
	}
	return nil
}

func (e *Executor) wait(ctx context.Context) error {
	if e.rateMgr == nil {
		return nil
	}
	if err := e.rateMgr.Wait(ctx, e.base.Host); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func newRequest(ctx context.Context, method, target string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// retryable reports whether a transport error may be retried. An expired
// session and a finished context are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, pipeline.ErrSessionExpired)
}
