package ejudge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "contestfs"
	clientPath       = "/ej/client/"

	// DefaultMaxResponseSize bounds every response body.
	DefaultMaxResponseSize = 64 << 20
)

type Options struct {
	BaseURL    string
	Login      string
	Password   string
	UserAgent  string
	HTTPClient *http.Client

	// MaxResponseSize bounds response bodies; larger responses fail.
	// Defaults to DefaultMaxResponseSize.
	MaxResponseSize int64
}

// Client talks to the contest server's JSON API. It is safe for concurrent
// use.
type Client struct {
	baseURL   *url.URL
	login     string
	password  string
	userAgent string
	http      *http.Client
	maxBody   int64
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme: %s", u.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxBody := opts.MaxResponseSize
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseSize
	}

	return &Client{
		baseURL:   u,
		login:     opts.Login,
		password:  opts.Password,
		userAgent: userAgent,
		http:      httpClient,
		maxBody:   maxBody,
	}, nil
}

// APIError is a failure reported by the server.
type APIError struct {
	Action     string
	HTTPStatus int
	Num        int
	Message    string
}

func (e *APIError) Error() string {
	if e.Num != 0 {
		return fmt.Sprintf("%s: server error %d: %s", e.Action, e.Num, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Action, e.HTTPStatus, e.Message)
}

// SessionExpired reports whether the server rejected the session
// credentials.
func (e *APIError) SessionExpired() bool {
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// IsSessionExpired reports whether err carries an APIError for rejected
// session credentials.
func IsSessionExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.SessionExpired()
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Num     int    `json:"num"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) endpoint(action string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + clientPath + action
	u.RawQuery = query.Encode()
	return u.String()
}

func sessionQuery(s Session) url.Values {
	q := url.Values{}
	q.Set("SID", s.SID)
	q.Set("contest_id", strconv.Itoa(s.ContestID))
	return q
}

func (c *Client) newRequest(ctx context.Context, method, action string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(action, query), body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.New().String())
	return req, nil
}

func withSession(req *http.Request, s Session) {
	if s.EJSID != "" {
		req.AddCookie(&http.Cookie{Name: "EJSID", Value: s.EJSID})
	}
}

// send executes req and returns the raw body of a successful response.
func (c *Client) send(req *http.Request, action string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if isZstd(resp) {
		d, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to create zstd reader: %w", action, err)
		}
		defer d.Close()
		r = d
	}

	body, err := io.ReadAll(io.LimitReader(r, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", action, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%s: %w: more than %d bytes", action, common.ErrResponseTooLarge, c.maxBody)
	}

	log.Debug().
		Str("action", action).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Str("request_id", req.Header.Get("X-Request-Id")).
		Msg("api request completed")

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Action: action, HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			apiErr.Num = env.Error.Num
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return body, nil
}

func isZstd(resp *http.Response) bool {
	return resp.Header.Get("Content-Encoding") == "zstd" ||
		resp.Header.Get("Content-Type") == "application/zstd"
}

// call executes req and decodes the result of the JSON envelope into out.
func (c *Client) call(req *http.Request, action string, out any) error {
	body, err := c.send(req, action)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: decoding response: %w", action, err)
	}
	if !env.OK {
		apiErr := &APIError{Action: action, HTTPStatus: http.StatusOK, Message: "request failed"}
		if env.Error != nil {
			apiErr.Num = env.Error.Num
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decoding result: %w", action, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, s Session, action string, query url.Values, out any) error {
	q := sessionQuery(s)
	for k, v := range query {
		q[k] = v
	}
	req, err := c.newRequest(ctx, http.MethodGet, action, q, nil)
	if err != nil {
		return err
	}
	withSession(req, s)
	return c.call(req, action, out)
}

func (c *Client) getRaw(ctx context.Context, s Session, action string, query url.Values) ([]byte, error) {
	q := sessionQuery(s)
	for k, v := range query {
		q[k] = v
	}
	req, err := c.newRequest(ctx, http.MethodGet, action, q, nil)
	if err != nil {
		return nil, err
	}
	withSession(req, s)
	// Test files and sources can be large; let the server compress them.
	req.Header.Set("Accept-Encoding", "zstd")
	return c.send(req, action)
}

func (c *Client) postCredentials(ctx context.Context, action string, form url.Values, out any) error {
	form.Set("login", c.login)
	form.Set("password", c.password)
	req, err := c.newRequest(ctx, http.MethodPost, action, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.call(req, action, out)
}

// ListContests returns the contests the account may enter.
func (c *Client) ListContests(ctx context.Context) ([]ContestBrief, error) {
	var out struct {
		Contests []ContestBrief `json:"contests"`
	}
	if err := c.postCredentials(ctx, "contests-json", url.Values{}, &out); err != nil {
		return nil, err
	}
	return out.Contests, nil
}

// EnterContest logs in to a contest and returns its session credentials.
func (c *Client) EnterContest(ctx context.Context, contestID int) (Session, error) {
	form := url.Values{}
	form.Set("contest_id", strconv.Itoa(contestID))

	var s Session
	if err := c.postCredentials(ctx, "login-json", form, &s); err != nil {
		return Session{}, err
	}
	if s.SID == "" {
		return Session{}, fmt.Errorf("login-json: %w", common.ErrNoSession)
	}
	s.ContestID = contestID
	return s, nil
}

func (c *Client) ContestStatus(ctx context.Context, s Session) (ContestInfo, error) {
	var info ContestInfo
	err := c.get(ctx, s, "contest-status-json", nil, &info)
	return info, err
}

func (c *Client) ListRuns(ctx context.Context, s Session) (RunLog, error) {
	var runs RunLog
	err := c.get(ctx, s, "list-runs-json", nil, &runs)
	return runs, err
}

func problemQuery(problemID int) url.Values {
	q := url.Values{}
	q.Set("problem", strconv.Itoa(problemID))
	return q
}

func runQuery(runID int) url.Values {
	q := url.Values{}
	q.Set("run_id", strconv.Itoa(runID))
	return q
}

func (c *Client) ProblemStatus(ctx context.Context, s Session, problemID int) (ProblemInfo, error) {
	var info ProblemInfo
	err := c.get(ctx, s, "problem-status-json", problemQuery(problemID), &info)
	return info, err
}

func (c *Client) ProblemStatement(ctx context.Context, s Session, problemID int) ([]byte, error) {
	return c.getRaw(ctx, s, "problem-statement-json", problemQuery(problemID))
}

func (c *Client) RunStatus(ctx context.Context, s Session, runID int) (RunInfo, error) {
	var info RunInfo
	err := c.get(ctx, s, "run-status-json", runQuery(runID), &info)
	return info, err
}

func (c *Client) RunSource(ctx context.Context, s Session, runID int) ([]byte, error) {
	return c.getRaw(ctx, s, "download-run", runQuery(runID))
}

func (c *Client) RunMessages(ctx context.Context, s Session, runID int) (RunMessages, error) {
	var msgs RunMessages
	err := c.get(ctx, s, "run-messages-json", runQuery(runID), &msgs)
	return msgs, err
}

func (c *Client) RunTestData(ctx context.Context, s Session, runID, testNum int, kind common.TestKind) ([]byte, error) {
	q := runQuery(runID)
	q.Set("num", strconv.Itoa(testNum))
	q.Set("index", strconv.Itoa(int(kind)))
	return c.getRaw(ctx, s, "run-test-json", q)
}

// SubmitRun uploads a solution and returns the id the server assigned to
// the new run.
func (c *Client) SubmitRun(ctx context.Context, s Session, problemID, langID int, fileName string, data []byte) (int, error) {
	const action = "submit-run"

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"SID":        s.SID,
		"contest_id": strconv.Itoa(s.ContestID),
		"prob_id":    strconv.Itoa(problemID),
		"lang_id":    strconv.Itoa(langID),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return 0, fmt.Errorf("%s: %w", action, err)
		}
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", action, err)
	}
	if _, err := part.Write(data); err != nil {
		return 0, fmt.Errorf("%s: %w", action, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("%s: %w", action, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, action, nil, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	withSession(req, s)

	var out SubmitResult
	if err := c.call(req, action, &out); err != nil {
		return 0, err
	}
	return out.RunID, nil
}
