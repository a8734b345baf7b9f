package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Transport-level failures. They describe the execution service, never the
// submitted program.
var (
	ErrServiceTimeout     = errors.New("execution service timed out")
	ErrServiceUnreachable = errors.New("execution service unreachable")
	ErrServiceBusy        = errors.New("execution service busy")
)

// ServiceError is a non-2xx answer from the execution service.
type ServiceError struct {
	StatusCode int
	Message    string // error text from the response body, if any
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("execution service error: %d", e.StatusCode)
}

// Is lets a 503 match ErrServiceBusy.
func (e *ServiceError) Is(target error) bool {
	return target == ErrServiceBusy && e.StatusCode == http.StatusServiceUnavailable
}

// DefaultTimeout is the budget requested when the caller passes none.
const DefaultTimeout = 30 * time.Second

// DefaultGrace is how much longer the client waits than the execution budget
// it asks for, so a slow program is told apart from a hung service.
const DefaultGrace = 5 * time.Second

const healthTimeout = 5 * time.Second

// Client calls a runner Server over HTTP.
type Client struct {
	baseURL string
	grace   time.Duration
	http    *http.Client
}

// NewClient creates a client for the runner at baseURL.
func NewClient(baseURL string, grace time.Duration) *Client {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		grace:   grace,
		http:    &http.Client{},
	}
}

// Execute asks the runner to run code with the given budget. A returned
// response always describes the program; transport problems come back as
// ErrServiceTimeout, ErrServiceUnreachable or *ServiceError.
func (c *Client) Execute(ctx context.Context, code string, timeout time.Duration) (*ExecuteResponse, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	seconds := int(math.Ceil(timeout.Seconds()))
	body, err := json.Marshal(ExecuteRequest{Code: code, Timeout: seconds})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds)*time.Second+c.grace)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, requestID(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	var out ExecuteResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: out.ErrorText()}
	}
	if decodeErr != nil {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	}
	return &out, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{StatusCode: resp.StatusCode}
	}
	return nil
}

func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
}

func requestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
