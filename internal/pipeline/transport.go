package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/metrics"
)

type retriedKey struct{}

// MarkRetried flags ctx so that a 401 on a request carrying it is returned as is.
func MarkRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// IsRetried reports whether ctx belongs to a request already replayed after a refresh.
func IsRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Transport is the authenticated request pipeline as an http.RoundTripper.
// Every request is dispatched (bearer token + tenant path); a 401 triggers one
// coordinated token renewal and a single replay with the new token.
type Transport struct {
	base        http.RoundTripper
	dispatcher  *Dispatcher
	coordinator *Coordinator
	logger      *zap.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(logger *zap.Logger, base http.RoundTripper, d *Dispatcher, c *Coordinator) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, dispatcher: d, coordinator: c, logger: logger}
}

// NewClient returns an *http.Client sending through t.
func NewClient(t *Transport, timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	out, sent := t.dispatcher.Dispatch(req, "")
	resp, err := t.send(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if IsRetried(req.Context()) {
		return resp, nil
	}
	discard(resp)

	t.logger.Debug("pipeline.unauthorized",
		zap.String("method", req.Method),
		zap.String("url", out.URL.Redacted()))

	token, err := t.coordinator.Renew(req.Context(), sent)
	if err != nil {
		return nil, err
	}

	retry := req.WithContext(MarkRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("pipeline: rewind body: %w", err)
		}
		retry.Body = body
	}
	out, _ = t.dispatcher.Dispatch(retry, token)
	return t.send(out)
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		metrics.IncPipelineRequest(req.Method, "error")
		return nil, err
	}
	metrics.IncPipelineRequest(req.Method, strconv.Itoa(resp.StatusCode))
	return resp, nil
}

// replayable makes sure req's body can be sent twice. Bodies without GetBody are buffered.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("pipeline: buffer body: %w", err)
	}

	cp := req.Clone(req.Context())
	cp.Body = io.NopCloser(bytes.NewReader(data))
	cp.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	cp.ContentLength = int64(len(data))
	return cp, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
