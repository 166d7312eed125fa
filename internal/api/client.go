// Package api is the typed client for the moneta REST API. Every endpoint
// wraps its payload in a uniform envelope: {"status":"ok","response":...} on
// success and {"status":"error","msg":...} on failure. Any other status is a
// protocol error.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moneta/internal/core"
)

// Client talks to a moneta server. The zero value is not usable; use New.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// NewWithHTTPClient allows tests and callers with special transport needs to
// supply their own http.Client.
func NewWithHTTPClient(baseURL string, httpc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

// APIError is an application-level failure: the server answered with a valid
// error envelope. The message is shown to the user verbatim.
type APIError struct {
	Msg string
}

func (e *APIError) Error() string { return e.Msg }

// envelope is the wire frame around every response payload.
type envelope struct {
	Status   string          `json:"status"`
	Msg      string          `json:"msg"`
	Response json.RawMessage `json:"response"`
}

// do issues a request and decodes the envelope into out (out may be nil for
// endpoints with an empty payload). Failed envelopes become *APIError;
// unreadable bodies and unknown statuses are transport/protocol errors.
// Nothing is retried.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("request failed: %s", resp.Status)
		}
		return fmt.Errorf("malformed response envelope: %w", err)
	}

	switch env.Status {
	case "ok":
	case "error":
		return &APIError{Msg: env.Msg}
	default:
		return fmt.Errorf("unknown envelope status %q", env.Status)
	}

	if out == nil || len(env.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("decoding response payload: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// UploadCreated is the server's answer to a new upload: the staging handle
// plus everything needed to seed the column-mapping UI.
type UploadCreated struct {
	UploadID          int64    `json:"upload_id"`
	Headers           []string `json:"headers"`
	HeaderSuggestions []string `json:"header_suggestions"`
	RowCount          int      `json:"row_count"`
}

// CreateUpload streams the raw file bytes to the server and returns the
// staged upload preview.
func (c *Client) CreateUpload(ctx context.Context, file io.Reader) (*UploadCreated, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/", file)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out UploadCreated
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadOptions lists the recognized fields and supported date formats.
type UploadOptions struct {
	HeaderOptions []string `json:"header_options"`
	DateFormats   []string `json:"date_formats"`
}

func (c *Client) GetUploadOptions(ctx context.Context) (*UploadOptions, error) {
	var out UploadOptions
	if err := c.get(ctx, "/api/upload/options", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadRows fetches a page of staged cells, flattened row-major. Callers
// reconstruct rows by slicing in steps of the upload's column count.
func (c *Client) UploadRows(ctx context.Context, uploadID int64, rowIndex, rowCount int) ([]string, error) {
	path := fmt.Sprintf("/api/upload/%d/rows?row_index=%s&row_count=%s",
		uploadID, url.QueryEscape(strconv.Itoa(rowIndex)), url.QueryEscape(strconv.Itoa(rowCount)))

	var out struct {
		Cells []string `json:"cells"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Cells, nil
}

// SubmitFailure is a server-side submission rejection: either the column
// mapping was bad (HeaderError) or one cell's content failed to parse
// (Row/Col/CellError). It is distinct from *APIError so callers can point at
// the offending cell.
type SubmitFailure struct {
	HeaderError string `json:"header_error"`
	Row         int    `json:"row"`
	Col         int    `json:"col"`
	CellError   string `json:"cell_error"`
}

func (f *SubmitFailure) Error() string {
	if f.HeaderError != "" {
		return f.HeaderError
	}
	return fmt.Sprintf("row %d column %d: %s", f.Row, f.Col, f.CellError)
}

// submitResult is the inner payload of the submit endpoint.
type submitResult struct {
	Status string `json:"status"`
	SubmitFailure
}

// SubmitUpload sends the confirmed column mapping. A nil return means the
// upload was imported; *SubmitFailure reports header or cell rejections.
func (c *Client) SubmitUpload(ctx context.Context, uploadID int64, selections []core.Field, dateFormat int) error {
	sel := make([]string, len(selections))
	for i, s := range selections {
		sel[i] = string(s)
	}
	in := struct {
		HeaderSelections []string `json:"header_selections"`
		DateFormat       int      `json:"date_format"`
	}{HeaderSelections: sel, DateFormat: dateFormat}

	var out submitResult
	if err := c.postJSON(ctx, fmt.Sprintf("/api/upload/%d/submit", uploadID), in, &out); err != nil {
		return err
	}
	switch out.Status {
	case "ok":
		return nil
	case "header_error", "cell_error":
		f := out.SubmitFailure
		return &f
	default:
		return fmt.Errorf("unknown submit status %q", out.Status)
	}
}

// ListAccounts returns the known account names.
func (c *Client) ListAccounts(ctx context.Context) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.get(ctx, "/api/accounts/", &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// AddAccount registers a new account name.
func (c *Client) AddAccount(ctx context.Context, name string) error {
	in := struct {
		Name string `json:"name"`
	}{Name: name}
	return c.postJSON(ctx, "/api/accounts/", in, nil)
}

func (c *Client) series(ctx context.Context, path string) (*core.CategorySeries, error) {
	var out core.CategorySeries
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions returns the signed per-category series over all transactions.
func (c *Client) Transactions(ctx context.Context) (*core.CategorySeries, error) {
	return c.series(ctx, "/api/transactions")
}

// Expenses returns the monthly expense series (positive magnitudes).
func (c *Client) Expenses(ctx context.Context) (*core.CategorySeries, error) {
	return c.series(ctx, "/api/expenses")
}

// Income returns the monthly income series.
func (c *Client) Income(ctx context.Context) (*core.CategorySeries, error) {
	return c.series(ctx, "/api/income")
}
