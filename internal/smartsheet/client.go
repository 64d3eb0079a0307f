// Package smartsheet implements target.API over the Smartsheet REST API 2.0.
//
// The client does not retry. Callers wrap calls in a retry.Executor; the
// errors returned here carry the taxonomy (auth, not found, rate limit,
// transient) the executor classifies on.
package smartsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/ratelimit"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.smartsheet.com/2.0"

// Client is a Smartsheet API client. Safe for concurrent use.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter ratelimit.Limiter
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	Limiter   ratelimit.Limiter
	Transport http.RoundTripper
}

// New returns a client. Every request waits on opts.Limiter first.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, apperr.NewConfigurationError("SMARTSHEET_API_TOKEN", "required to write to Smartsheet")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	return &Client{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		token: opts.Token,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(rt),
		},
		limiter: opts.Limiter,
	}, nil
}

// APIError is the error body Smartsheet returns with non-2xx responses.
type APIError struct {
	Status    int    `json:"-"`
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
	RefID     string `json:"refId"`
}

func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) Error() string {
	msg := fmt.Sprintf("smartsheet %d", e.Status)
	if e.ErrorCode != 0 {
		msg += fmt.Sprintf(" (error %d)", e.ErrorCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RefID != "" {
		msg += " [ref " + e.RefID + "]"
	}
	return msg
}

// envelope accepts {"result": ...} and {"data": ...} responses.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Data   json.RawMessage `json:"data"`
}

// decode reads v out of body, which may be a result envelope, a data
// envelope, or the bare object.
func decode(body []byte, v any) error {
	var env envelope
	if err := sonic.Unmarshal(body, &env); err == nil {
		switch {
		case len(env.Result) > 0 && string(env.Result) != "null":
			return sonic.Unmarshal(env.Result, v)
		case len(env.Data) > 0 && string(env.Data) != "null":
			return sonic.Unmarshal(env.Data, v)
		}
	}
	return sonic.Unmarshal(body, v)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := sonic.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		logging.FromContext(ctx).Debug("smartsheet request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.Int("error_code", apiErr.ErrorCode))
		return apperr.FromStatus(resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), apiErr)
	}

	if out == nil {
		return nil
	}
	if err := decode(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
