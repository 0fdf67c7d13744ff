// Package feedbacksync talks to the essay feedback REST API and applies the
// results to a feedback.Store.
package feedbacksync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prompt-edu/feedbackdesk/internal/feedback"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// HTTPError is a non-2xx API response. Detail carries the server's
// {"detail": ...} message when present.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// RequestPayload is a feedback request as the API sends it, essay embedded.
type RequestPayload struct {
	PK       int            `json:"pk"`
	Essay    feedback.Essay `json:"essay"`
	Deadline time.Time      `json:"deadline"`
}

// ResponsePayload is a feedback response as the API sends it. The history is
// only present on the detail and start-response endpoints.
type ResponsePayload struct {
	PK                       int              `json:"pk"`
	FeedbackRequest          RequestPayload   `json:"feedback_request"`
	Created                  time.Time        `json:"created"`
	Finished                 bool             `json:"finished"`
	FinishTime               *time.Time       `json:"finish_time"`
	Editor                   int              `json:"editor"`
	Content                  string           `json:"content"`
	PreviousRevisionFeedback []RequestPayload `json:"previous_revision_feedback,omitempty"`
}

// ResponseUpdate is the writable part of a feedback response.
type ResponseUpdate struct {
	Content string `json:"content"`
}

type ResponseFilter int

const (
	AllResponses ResponseFilter = iota
	OnlyUnfinished
	OnlyFinished
)

type RemoteClient interface {
	ListFeedbackRequests(ctx context.Context) ([]RequestPayload, error)
	ListFeedbackResponses(ctx context.Context, filter ResponseFilter) ([]ResponsePayload, error)
	GetFeedbackResponse(ctx context.Context, responseID int) (ResponsePayload, error)
	StartFeedbackResponse(ctx context.Context, requestID int) (ResponsePayload, error)
	UpdateFeedbackResponse(ctx context.Context, responseID int, update ResponseUpdate) (ResponsePayload, error)
	FinishFeedbackResponse(ctx context.Context, responseID int) (ResponsePayload, error)
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
}

// Session is the cookie state a login leaves behind, exported so a CLI can
// reuse it across invocations.
type Session struct {
	SessionID string `json:"sessionid"`
	CSRFToken string `json:"csrftoken"`
}

const (
	sessionCookieName = "sessionid"
	csrfCookieName    = "csrftoken"
)

type HTTPClient struct {
	baseURL    string
	base       *url.URL
	token      string
	httpClient *http.Client
	schemas    *payloadSchemas
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if httpClient.Jar == nil {
		clone := *httpClient
		jar, _ := cookiejar.New(nil)
		clone.Jar = jar
		httpClient = &clone
	}
	base, _ := url.Parse(baseURL)
	return &HTTPClient{
		baseURL:    baseURL,
		base:       base,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		schemas:    defaultSchemas(),
		logger:     zap.NewNop(),
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) WithLogger(logger *zap.Logger) *HTTPClient {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithRetry overrides the retry budget for idempotent requests. Zero or
// negative delays keep the defaults.
func (c *HTTPClient) WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) *HTTPClient {
	if maxRetries >= 0 {
		c.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		c.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		c.maxDelay = maxDelay
	}
	return c
}

func (c *HTTPClient) ListFeedbackRequests(ctx context.Context) ([]RequestPayload, error) {
	var out []RequestPayload
	err := c.doJSON(ctx, http.MethodGet, "/api/feedback-request/", nil, c.schemas.requestList, &out)
	return out, err
}

func (c *HTTPClient) ListFeedbackResponses(ctx context.Context, filter ResponseFilter) ([]ResponsePayload, error) {
	q := url.Values{}
	switch filter {
	case OnlyUnfinished:
		q.Set("only_unfinished", "true")
	case OnlyFinished:
		q.Set("only_finished", "true")
	}
	path := "/api/feedback-response/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []ResponsePayload
	err := c.doJSON(ctx, http.MethodGet, path, nil, c.schemas.responseList, &out)
	return out, err
}

func (c *HTTPClient) GetFeedbackResponse(ctx context.Context, responseID int) (ResponsePayload, error) {
	var out ResponsePayload
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/feedback-response/%d/", responseID), nil, c.schemas.response, &out)
	return out, err
}

func (c *HTTPClient) StartFeedbackResponse(ctx context.Context, requestID int) (ResponsePayload, error) {
	var out ResponsePayload
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/feedback-request/%d/start-response/", requestID), nil, c.schemas.response, &out)
	return out, err
}

// UpdateFeedbackResponse saves draft content. The returned payload is zero
// when the server answers with an empty body.
func (c *HTTPClient) UpdateFeedbackResponse(ctx context.Context, responseID int, update ResponseUpdate) (ResponsePayload, error) {
	var out ResponsePayload
	err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/feedback-response/%d/", responseID), update, c.schemas.response, &out)
	return out, err
}

func (c *HTTPClient) FinishFeedbackResponse(ctx context.Context, responseID int) (ResponsePayload, error) {
	var out ResponsePayload
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/feedback-response/%d/finish/", responseID), nil, c.schemas.response, &out)
	return out, err
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.doJSON(ctx, http.MethodPost, "/login/", body, nil, nil)
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/logout/", nil, nil, nil)
}

// Session returns the cookies the server set on login, if any.
func (c *HTTPClient) Session() Session {
	var s Session
	if c.httpClient.Jar == nil || c.base == nil {
		return s
	}
	for _, cookie := range c.httpClient.Jar.Cookies(c.base) {
		switch cookie.Name {
		case sessionCookieName:
			s.SessionID = cookie.Value
		case csrfCookieName:
			s.CSRFToken = cookie.Value
		}
	}
	return s
}

// RestoreSession seeds the cookie jar with a previously exported session.
func (c *HTTPClient) RestoreSession(s Session) {
	if c.httpClient.Jar == nil || c.base == nil {
		return
	}
	var cookies []*http.Cookie
	if s.SessionID != "" {
		cookies = append(cookies, &http.Cookie{Name: sessionCookieName, Value: s.SessionID, Path: "/"})
	}
	if s.CSRFToken != "" {
		cookies = append(cookies, &http.Cookie{Name: csrfCookieName, Value: s.CSRFToken, Path: "/"})
	}
	if len(cookies) > 0 {
		c.httpClient.Jar.SetCookies(c.base, cookies)
	}
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, requestPath string,
	body any,
	schema *jsonschema.Schema,
	out any,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	retryable := isIdempotent(method)
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		c.decorate(req, body != nil)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retryable && attempt < c.maxRetries {
				c.logger.Debug("retrying request after transport error",
					zap.String("method", method), zap.String("path", requestPath), zap.Int("attempt", attempt+1), zap.Error(err))
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payloadBytes)) == 0 {
				return nil
			}
			if err := validatePayload(schema, payloadBytes); err != nil {
				return fmt.Errorf("%s %s: %w", method, requestPath, err)
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if retryable && (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			c.logger.Debug("retrying request after server error",
				zap.String("method", method), zap.String("path", requestPath), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Detail:     errPayload.Detail,
		}
	}
}

func (c *HTTPClient) decorate(req *http.Request, hasBody bool) {
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID())
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if !isSafeMethod(req.Method) {
		if token := c.csrfToken(); token != "" {
			req.Header.Set("X-CSRFToken", token)
		}
	}
}

func (c *HTTPClient) csrfToken() string {
	if c.httpClient.Jar == nil || c.base == nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(c.base) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// POSTs here claim or finish responses and are never replayed.
func isIdempotent(method string) bool {
	return isSafeMethod(method) || method == http.MethodPut || method == http.MethodDelete
}

func correlationID() string {
	return "feedbackdesk_" + uuid.NewString()
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
