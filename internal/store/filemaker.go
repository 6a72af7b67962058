package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/meishi-bot/meishi/internal/card"
)

const (
	// DefaultLayout is the FileMaker layout exposed to the Data API.
	DefaultLayout = "for_FilemakerDataAPI"

	// nameField is the layout field duplicate screening matches on.
	nameField = "氏名"

	// FileMaker Data API error codes.
	fmCodeNoMatch      = "401" // no records match the find request
	fmCodeInvalidToken = "952" // session token expired or invalid
)

// FileMakerConfig holds connection settings for a FileMaker server.
type FileMakerConfig struct {
	Server   string // https://fm.example.com
	Database string // database name including .fmp12
	Layout   string // defaults to DefaultLayout
	Username string
	Password string

	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// FileMakerClient implements Store against the FileMaker Data API.
// It holds one session token, re-authenticating when the server
// reports the token expired.
type FileMakerClient struct {
	cfg    FileMakerConfig
	client *http.Client

	mu    sync.Mutex
	token string
}

// NewFileMakerClient creates a new Data API client.
func NewFileMakerClient(cfg FileMakerConfig) *FileMakerClient {
	if cfg.Layout == "" {
		cfg.Layout = DefaultLayout
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &FileMakerClient{cfg: cfg, client: client}
}

// FindDuplicate performs an exact-match find on the name field.
// An empty find result is not an error; any other store failure is.
func (c *FileMakerClient) FindDuplicate(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, nil
	}

	body := map[string]any{
		"query": []map[string]string{
			{nameField: "==" + name},
		},
	}

	resp, err := c.dataCall(ctx, c.layoutPath("_find"), body)
	if err != nil {
		var fmErr *fmError
		if errors.As(err, &fmErr) && fmErr.Code == fmCodeNoMatch {
			return false, nil
		}
		return false, fmt.Errorf("duplicate lookup failed: %w", err)
	}

	return resp.Response.DataInfo.FoundCount > 0, nil
}

// CreateCard writes one record and returns the FileMaker record id.
func (c *FileMakerClient) CreateCard(ctx context.Context, fields card.FieldData) (string, error) {
	body := map[string]any{"fieldData": fields}

	resp, err := c.dataCall(ctx, c.layoutPath("records"), body)
	if err != nil {
		return "", fmt.Errorf("record create failed: %w", err)
	}
	if resp.Response.RecordID == "" {
		return "", fmt.Errorf("record create returned no record id")
	}
	return resp.Response.RecordID, nil
}

// dataCall performs an authenticated Data API POST, retrying once
// with a fresh session when the token has expired.
func (c *FileMakerClient) dataCall(ctx context.Context, path string, body any) (*fmResponse, error) {
	var resp *fmResponse

	err := retry.Do(
		func() error {
			token, err := c.ensureToken(ctx)
			if err != nil {
				return err
			}

			resp, err = c.post(ctx, path, token, body)
			if isInvalidToken(err) {
				c.clearToken()
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(100*time.Millisecond),
		retry.RetryIf(isInvalidToken),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ensureToken returns the cached session token, logging in if needed.
func (c *FileMakerClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	url := fmt.Sprintf("%s/fmi/data/vLatest/databases/%s/sessions", c.cfg.Server, c.cfg.Database)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.doJSON(req)
	if err != nil {
		return "", fmt.Errorf("session login failed: %w", err)
	}
	if resp.Response.Token == "" {
		return "", fmt.Errorf("session login returned no token")
	}

	c.token = resp.Response.Token
	return c.token, nil
}

func (c *FileMakerClient) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *FileMakerClient) layoutPath(suffix string) string {
	return fmt.Sprintf("%s/fmi/data/vLatest/databases/%s/layouts/%s/%s",
		c.cfg.Server, c.cfg.Database, c.cfg.Layout, suffix)
}

func (c *FileMakerClient) post(ctx context.Context, url, token string, body any) (*fmResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.doJSON(req)
}

func (c *FileMakerClient) doJSON(req *http.Request) (*fmResponse, error) {
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp fmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", httpResp.StatusCode, err)
	}

	if code, msg := resp.errorMessage(); code != "" && code != "0" {
		return nil, &fmError{HTTPStatus: httpResp.StatusCode, Code: code, Message: msg}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &fmError{HTTPStatus: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode)}
	}

	return &resp, nil
}

// fmResponse is the Data API envelope shared by all endpoints.
type fmResponse struct {
	Response struct {
		Token    string `json:"token"`
		RecordID string `json:"recordId"`
		DataInfo struct {
			FoundCount int `json:"foundCount"`
		} `json:"dataInfo"`
	} `json:"response"`
	Messages []fmMessage `json:"messages"`
}

type fmMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *fmResponse) errorMessage() (code, msg string) {
	if len(r.Messages) == 0 {
		return "", ""
	}
	return r.Messages[0].Code, r.Messages[0].Message
}

// fmError is a FileMaker-level error carried alongside HTTP status.
type fmError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *fmError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("filemaker error %s: %s (http %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("filemaker http error %d: %s", e.HTTPStatus, e.Message)
}

func isInvalidToken(err error) bool {
	var fmErr *fmError
	if !errors.As(err, &fmErr) {
		return false
	}
	return fmErr.Code == fmCodeInvalidToken || fmErr.HTTPStatus == http.StatusUnauthorized
}
