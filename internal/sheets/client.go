package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Logger is the subset of the application logger the client needs
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// ClientConfig addresses one sheet tab and its cell-write webhook
type ClientConfig struct {
	APIBase       string
	SpreadsheetID string
	SheetName     string
	Range         string
	APIKey        string
	WebhookURL    string
	Timeout       time.Duration
}

// CellUpdate is a single-cell write
type CellUpdate struct {
	RowIndex     int    `json:"rowIndex"`
	ColumnLetter string `json:"columnLetter"`
	NewValue     string `json:"newValue"`
}

// UpstreamError reports a failed or rejected call to the spreadsheet
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sheets %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sheets %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time; such calls can be retried
func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Client talks to the spreadsheet values API and the cell-write webhook.
// Every call is bounded by the configured timeout.
type Client struct {
	http   *http.Client
	cfg    ClientConfig
	logger Logger
}

// NewClient creates a sheet client. A nil httpClient uses a default one.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

type valuesResponse struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// FetchRows reads the configured range and returns its raw cell strings
func (c *Client) FetchRows(ctx context.Context) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		c.cfg.APIBase,
		url.PathEscape(c.cfg.SpreadsheetID),
		url.PathEscape(c.cfg.SheetName+"!"+c.cfg.Range),
	)
	if c.cfg.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.cfg.APIKey)
	}

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &UpstreamError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UpstreamError{Op: "fetch", StatusCode: resp.StatusCode, Err: errors.New(string(body))}
	}

	var payload valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &UpstreamError{Op: "fetch", Err: fmt.Errorf("decode values: %w", err)}
	}

	c.logger.Debug("fetched sheet range", "range", payload.Range, "rows", len(payload.Values))
	return payload.Values, nil
}

type webhookResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// UpdateCell writes one cell through the webhook
func (c *Client) UpdateCell(ctx context.Context, update CellUpdate) error {
	if c.cfg.WebhookURL == "" {
		return &UpstreamError{Op: "update", Err: errors.New("cell-write webhook is not configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal cell update: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &UpstreamError{Op: "update", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Op: "update", StatusCode: resp.StatusCode, Err: errors.New(string(raw))}
	}

	// The webhook may answer 200 with {"success": false}
	var result webhookResponse
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &result) == nil {
		if result.Success != nil && !*result.Success {
			msg := result.Error
			if msg == "" {
				msg = "webhook reported failure"
			}
			return &UpstreamError{Op: "update", Err: errors.New(msg)}
		}
	}

	c.logger.Debug("cell updated", "row", update.RowIndex, "column", update.ColumnLetter)
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("sheet request failed", "method", method, "error", err)
		return nil, err
	}
	return resp, nil
}
