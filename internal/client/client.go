// Package client talks to the AgriDetect API from the field.
package client

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

	"go.uber.org/zap"

	"agridetect/internal/models"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 90 * time.Second
	maxErrorBody   = 64 << 10
)

type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) BaseURL() string { return c.baseURL }

// Submission is one image upload. ClientRef makes replays idempotent.
type Submission struct {
	Image      []byte
	Filename   string
	Latitude   *float64
	Longitude  *float64
	ClientRef  string
	CapturedAt time.Time
	// Source is "live" or "sync"; empty lets the server infer it from ClientRef.
	Source string
}

type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        models.User `json:"user"`
}

type Narration struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type History struct {
	Detections []*models.Detection `json:"detections"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

func (c *Client) Register(ctx context.Context, email, fullName, password string) (*models.User, error) {
	body := map[string]string{"email": email, "full_name": fullName, "password": password}
	var u models.User
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var tr TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &tr); err != nil {
		return nil, err
	}
	c.token = tr.AccessToken
	return &tr, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Detect uploads an image. replayed is true when the server already had ClientRef.
func (c *Client) Detect(ctx context.Context, sub Submission) (det *models.Detection, replayed bool, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	filename := sub.Filename
	if filename == "" {
		filename = "capture.jpg"
	}
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, false, err
	}
	if _, err := fw.Write(sub.Image); err != nil {
		return nil, false, err
	}
	if sub.Latitude != nil && sub.Longitude != nil {
		mw.WriteField("latitude", strconv.FormatFloat(*sub.Latitude, 'f', -1, 64))
		mw.WriteField("longitude", strconv.FormatFloat(*sub.Longitude, 'f', -1, 64))
	}
	if sub.ClientRef != "" {
		mw.WriteField("client_ref", sub.ClientRef)
	}
	if !sub.CapturedAt.IsZero() {
		mw.WriteField("captured_at", sub.CapturedAt.UTC().Format(time.RFC3339))
	}
	if sub.Source != "" {
		mw.WriteField("source", sub.Source)
	}
	if err := mw.Close(); err != nil {
		return nil, false, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/detection/predict", &buf)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var d models.Detection
	status, err := c.do(req, &d)
	if err != nil {
		return nil, false, err
	}
	return &d, status == http.StatusOK, nil
}

func (c *Client) History(ctx context.Context, limit, offset int) (*History, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/detection/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var h History
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Narration(ctx context.Context, id, lang string) (*Narration, error) {
	path := "/detection/" + url.PathEscape(id) + "/narration?lang=" + url.QueryEscape(lang)
	var n Narration
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Ping checks /health, which sits outside the API prefix.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, nil)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	_, err = c.do(req, out)
	return err
}

// do sends req and decodes a 2xx body into out. Transport failures become ErrOffline.
func (c *Client) do(req *http.Request, out any) (int, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil {
		if env.Error != "" {
			msg = env.Error
		} else if env.Detail != "" {
			msg = env.Detail
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
