package proxmox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/util/retry"
)

// RealClient talks to one Proxmox VE host over its HTTP API. It logs in
// lazily on first use and re-authenticates transparently when the session
// ticket expires. Safe for concurrent use.
type RealClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	timeouts   *config.Timeouts
	log        logr.Logger

	mu     sync.Mutex
	ticket string
	csrf   string
}

var _ API = (*RealClient)(nil)

// ClientOption customizes a RealClient.
type ClientOption func(*RealClient)

// WithBaseURL overrides the API base URL derived from the instance config.
func WithBaseURL(u string) ClientOption {
	return func(c *RealClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *RealClient) { c.httpClient = hc }
}

// WithTimeouts replaces the timeout configuration.
func WithTimeouts(t *config.Timeouts) ClientOption {
	return func(c *RealClient) { c.timeouts = t }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logr.Logger) ClientOption {
	return func(c *RealClient) { c.log = log }
}

// NewRealClient builds a client for the given host instance.
func NewRealClient(inst config.Instance, opts ...ClientOption) *RealClient {
	timeouts := config.LoadTimeouts()
	c := &RealClient{
		baseURL:  fmt.Sprintf("https://%s/api2/json", inst.Address()),
		username: inst.Username(),
		password: inst.Password,
		timeouts: timeouts,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeouts.HTTPRequest,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: c.timeouts.HTTPConnect,
				}).DialContext,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !inst.VerifyTLS,
				},
			},
		}
	}
	return c
}

type loginResponse struct {
	Ticket string `json:"ticket"`
	CSRF   string `json:"CSRFPreventionToken"`
}

// login obtains a fresh session ticket and CSRF token.
func (c *RealClient) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("login: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("reading login response: %w", err)}
	}
	switch {
	case resp.StatusCode >= 500:
		return &TransientError{Status: resp.StatusCode, Message: bodyMessage(resp, body)}
	case resp.StatusCode >= 400:
		return &AuthError{Status: resp.StatusCode, Message: bodyMessage(resp, body)}
	}

	var parsed struct {
		Data loginResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if parsed.Data.Ticket == "" {
		return &AuthError{Status: resp.StatusCode, Message: "login response carried no ticket"}
	}

	c.mu.Lock()
	c.ticket = parsed.Data.Ticket
	c.csrf = parsed.Data.CSRF
	c.mu.Unlock()
	c.log.V(1).Info("authenticated", "user", c.username)
	return nil
}

func (c *RealClient) session() (ticket, csrf string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticket, c.csrf
}

// do performs an authenticated request and returns the "data" element of the
// response. Transient failures are retried with backoff; a 401 triggers one
// re-login and one repeat of the request before giving up.
func (c *RealClient) do(ctx context.Context, method, path string, body url.Values) (json.RawMessage, error) {
	var data json.RawMessage
	attempt := func() error {
		var err error
		data, err = c.doOnce(ctx, method, path, body)
		return err
	}
	err := retry.WithExponentialBackoff(ctx, attempt,
		retry.WithMaxRetries(c.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay),
		retry.WithRetryIf(IsTransient),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *RealClient) doOnce(ctx context.Context, method, path string, body url.Values) (json.RawMessage, error) {
	ticket, _ := c.session()
	if ticket == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, respBody, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// Ticket expired; one fresh login, one repeat.
		c.log.V(1).Info("session rejected, re-authenticating", "path", path)
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		resp, respBody, err = c.roundTrip(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &AuthError{Status: resp.StatusCode, Message: bodyMessage(resp, respBody)}
		}
	}
	if err := responseError(resp, respBody); err != nil {
		return nil, err
	}

	var parsed struct {
		Data json.RawMessage `json:"data"`
	}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return parsed.Data, nil
}

func (c *RealClient) roundTrip(ctx context.Context, method, path string, body url.Values) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(body.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	c.authorize(req, method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &TransientError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransientError{Err: fmt.Errorf("reading %s %s response: %w", method, path, err)}
	}
	return resp, respBody, nil
}

// authorize attaches the session cookie and, for mutating methods, the CSRF
// prevention token.
func (c *RealClient) authorize(req *http.Request, method string) {
	ticket, csrf := c.session()
	if ticket == "" {
		return
	}
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: ticket})
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		req.Header.Set("CSRFPreventionToken", csrf)
	}
}

func responseError(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode >= 500:
		return &TransientError{Status: resp.StatusCode, Message: bodyMessage(resp, body)}
	case resp.StatusCode >= 400:
		return &RemoteError{Status: resp.StatusCode, Message: bodyMessage(resp, body)}
	}
	return nil
}

// bodyMessage extracts the most useful error text available: the "errors"
// element of a JSON body if present, otherwise the raw body, otherwise the
// HTTP status line.
func bodyMessage(resp *http.Response, body []byte) string {
	var parsed struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 && string(parsed.Errors) != "null" {
		return fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(parsed.Errors))
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		return fmt.Sprintf("%s: %s", resp.Status, trimmed)
	}
	return resp.Status
}

// getJSON performs a GET and decodes the data element into out.
func (c *RealClient) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// doTask performs a mutating request whose data element is a UPID.
func (c *RealClient) doTask(ctx context.Context, method, path string, body url.Values) (UPID, error) {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	var upid string
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &upid); err != nil {
			return "", fmt.Errorf("decoding task id from %s %s: %w", method, path, err)
		}
	}
	return UPID(upid), nil
}
