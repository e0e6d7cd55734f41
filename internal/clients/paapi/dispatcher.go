package paapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xsamir/ProductCompare/internal/sigv4"

	"go.uber.org/zap"
)

const maxResponseBytes = 8 << 20

// Outcome classifies one dispatch.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeServerError
	OutcomeClientError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	case OutcomeClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Result is the classified response of a single attempt. Status is 0 when no
// response was received; Err is set only for transport failures.
type Result struct {
	Outcome Outcome
	Status  int
	Body    []byte
	Err     error
}

// SignedRequest is a fully signed request ready to send.
type SignedRequest struct {
	Method  string
	URL     string
	Host    string
	Path    string
	Headers map[string]string
	Body    []byte
	Attempt int
}

// Dispatcher sends one signed request and classifies the response
type Dispatcher interface {
	Dispatch(ctx context.Context, req *SignedRequest) Result
}

// HTTPDispatcher sends signed requests over net/http.
type HTTPDispatcher struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTPDispatcher(timeout time.Duration, logger *zap.Logger) *HTTPDispatcher {
	return NewHTTPDispatcherWithClient(&http.Client{Timeout: timeout}, logger)
}

func NewHTTPDispatcherWithClient(client *http.Client, logger *zap.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDispatcher{client: client, logger: logger}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *SignedRequest) Result {
	start := time.Now()
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("host", req.Host),
		zap.String("path", req.Path),
		zap.Int("attempt", req.Attempt+1),
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		d.logger.Error("failed to build request", append(fields, zap.Error(err))...)
		return Result{Outcome: OutcomeServerError, Err: fmt.Errorf("build request: %w", err)}
	}
	for name, value := range req.Headers {
		if strings.EqualFold(name, "host") {
			httpReq.Host = value
			continue
		}
		httpReq.Header.Set(name, value)
	}

	d.logger.Debug("dispatching signed request",
		append(fields, zap.String("authorization", sigv4.RedactAuthorization(req.Headers["Authorization"])))...)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.logger.Warn("request transport failure",
			append(fields, zap.Duration("duration", time.Since(start)), zap.Error(err))...)
		return Result{Outcome: OutcomeServerError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		d.logger.Warn("failed to read response body",
			append(fields, zap.Int("status", resp.StatusCode), zap.Error(err))...)
		return Result{Outcome: OutcomeServerError, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	result := Result{Outcome: classify(resp.StatusCode), Status: resp.StatusCode, Body: body}

	fields = append(fields,
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("outcome", result.Outcome.String()),
	)
	if result.Outcome == OutcomeSuccess {
		d.logger.Info("request completed", fields...)
	} else {
		d.logger.Warn("request rejected", fields...)
	}
	return result
}

func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status >= 500:
		return OutcomeServerError
	default:
		return OutcomeClientError
	}
}
