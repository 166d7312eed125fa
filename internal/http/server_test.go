package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moneta/internal/core"
	"moneta/internal/storage"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	nextID    int64
	uploads   map[int64]*stagedUpload
	accounts  []string
	inserted  []core.Transaction
	insertErr error
	series    *core.CategorySeries
}

type stagedUpload struct {
	meta    storage.Upload
	headers []string
	rows    [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:  1,
		uploads: map[int64]*stagedUpload{},
		series:  &core.CategorySeries{Categories: []string{}, Dates: []string{}, Amounts: [][]float64{}},
	}
}

func (f *fakeStore) CreateUpload(ctx context.Context, filename string, headers []string, rows [][]string) (int64, error) {
	id := f.nextID
	f.nextID++
	f.uploads[id] = &stagedUpload{
		meta:    storage.Upload{ID: id, Filename: filename, ColumnCount: len(headers), RowCount: len(rows)},
		headers: headers,
		rows:    rows,
	}
	return id, nil
}

func (f *fakeStore) UploadHeaders(ctx context.Context, id int64) ([]string, error) {
	u, ok := f.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %d: %w", id, storage.ErrNotFound)
	}
	return u.headers, nil
}

func (f *fakeStore) UploadCells(ctx context.Context, id int64, rowIndex, rowCount int) ([]string, error) {
	u, ok := f.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %d: %w", id, storage.ErrNotFound)
	}
	if rowIndex < 0 || rowIndex+rowCount > len(u.rows) {
		return nil, fmt.Errorf("row range [%d, +%d) exceeds %d rows", rowIndex, rowCount, len(u.rows))
	}
	var cells []string
	for _, row := range u.rows[rowIndex : rowIndex+rowCount] {
		cells = append(cells, row...)
	}
	return cells, nil
}

func (f *fakeStore) AllUploadCells(ctx context.Context, id int64) ([]string, error) {
	u, ok := f.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %d: %w", id, storage.ErrNotFound)
	}
	return f.UploadCells(ctx, id, 0, len(u.rows))
}

func (f *fakeStore) DeleteUpload(ctx context.Context, id int64) error {
	delete(f.uploads, id)
	return nil
}

func (f *fakeStore) ListAccounts(ctx context.Context) ([]string, error) {
	return f.accounts, nil
}

func (f *fakeStore) AddAccount(ctx context.Context, name string) error {
	for _, a := range f.accounts {
		if a == name {
			return fmt.Errorf("account %q exists", name)
		}
	}
	f.accounts = append(f.accounts, name)
	return nil
}

func (f *fakeStore) InsertTransactions(ctx context.Context, txns []core.Transaction) ([]int64, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	ids := make([]int64, len(txns))
	for i := range txns {
		ids[i] = int64(len(f.inserted) + 1)
		f.inserted = append(f.inserted, txns[i])
	}
	return ids, nil
}

func (f *fakeStore) TransactionSeries(ctx context.Context) (*core.CategorySeries, error) {
	return f.series, nil
}
func (f *fakeStore) ExpenseSeries(ctx context.Context) (*core.CategorySeries, error) {
	return f.series, nil
}
func (f *fakeStore) IncomeSeries(ctx context.Context) (*core.CategorySeries, error) {
	return f.series, nil
}

type fakePublisher struct {
	published [][]int64
	err       error
}

func (p *fakePublisher) PublishTransactionSync(ctx context.Context, ids []int64) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ids)
	return nil
}

func newTestServer(t *testing.T, store Store, pub SyncPublisher) *httptest.Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", store, pub, nil)
	ts := httptest.NewServer(s.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return ts
}

// decodeOK asserts an ok envelope and decodes its payload into out.
func decodeOK(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()

	var env struct {
		Status   string          `json:"status"`
		Msg      string          `json:"msg"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Status != "ok" {
		t.Fatalf("envelope status=%q msg=%q", env.Status, env.Msg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Response, out); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
	}
}

func decodeErr(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	var env struct {
		Status string `json:"status"`
		Msg    string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Status != "error" {
		t.Fatalf("envelope status=%q, want error", env.Status)
	}
	return env.Msg
}

const sampleCSV = "Date,Description,Amount\n2025-01-03,GITHUB,-4.00\n2025-01-15,SALARY,3500.00\n"

func createUpload(t *testing.T, ts *httptest.Server) uploadCreated {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/upload/?filename=export.csv",
		"application/octet-stream", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	var created uploadCreated
	decodeOK(t, resp, &created)
	return created
}

func TestCreateUpload(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, nil)

	created := createUpload(t, ts)
	if created.UploadID == 0 || created.RowCount != 2 {
		t.Fatalf("created: %+v", created)
	}
	if len(created.Headers) != 3 || created.Headers[1] != "Description" {
		t.Fatalf("headers: %v", created.Headers)
	}
	want := []string{"Date", "Description", "Amount"}
	for i, w := range want {
		if created.HeaderSuggestions[i] != w {
			t.Fatalf("suggestions: %v", created.HeaderSuggestions)
		}
	}
	if store.uploads[created.UploadID].meta.Filename != "export.csv" {
		t.Fatalf("filename not staged: %+v", store.uploads[created.UploadID].meta)
	}
}

func TestCreateUploadEmptyBody(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), nil)
	resp, err := http.Post(ts.URL+"/api/upload/", "application/octet-stream", strings.NewReader(""))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if msg := decodeErr(t, resp); !strings.Contains(msg, "empty") {
		t.Fatalf("msg=%q", msg)
	}
}

func TestUploadOptions(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), nil)
	resp, err := http.Get(ts.URL + "/api/upload/options")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var out struct {
		HeaderOptions []string `json:"header_options"`
		DateFormats   []string `json:"date_formats"`
	}
	decodeOK(t, resp, &out)
	if len(out.HeaderOptions) != 5 || out.HeaderOptions[0] != "-" {
		t.Fatalf("header options: %v", out.HeaderOptions)
	}
	if len(out.DateFormats) != len(core.DateFormats) {
		t.Fatalf("date formats: %d", len(out.DateFormats))
	}
}

func TestUploadRows(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), nil)
	created := createUpload(t, ts)

	resp, err := http.Get(fmt.Sprintf("%s/api/upload/%d/rows?row_index=1&row_count=1", ts.URL, created.UploadID))
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	var out struct {
		Cells []string `json:"cells"`
	}
	decodeOK(t, resp, &out)
	want := []string{"2025-01-15", "SALARY", "3500.00"}
	if len(out.Cells) != 3 || out.Cells[1] != want[1] {
		t.Fatalf("cells: %v", out.Cells)
	}

	// Out-of-range page.
	resp, err = http.Get(fmt.Sprintf("%s/api/upload/%d/rows?row_index=1&row_count=5", ts.URL, created.UploadID))
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown upload.
	resp, err = http.Get(ts.URL + "/api/upload/999/rows?row_index=0&row_count=1")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func submitBody(selections []string, dateFormat int) *bytes.Reader {
	b, _ := json.Marshal(map[string]any{
		"header_selections": selections,
		"date_format":       dateFormat,
	})
	return bytes.NewReader(b)
}

func TestSubmitUploadOK(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	ts := newTestServer(t, store, pub)
	created := createUpload(t, ts)

	resp, err := http.Post(fmt.Sprintf("%s/api/upload/%d/submit", ts.URL, created.UploadID),
		"application/json", submitBody([]string{"Date", "Description", "Amount"}, 3))
	if err != nil {
		t.Fatalf("post submit: %v", err)
	}
	var result submitResult
	decodeOK(t, resp, &result)
	if result.Status != "ok" {
		t.Fatalf("result: %+v", result)
	}

	if len(store.inserted) != 2 {
		t.Fatalf("inserted: %v", store.inserted)
	}
	if store.inserted[0].Name != "GITHUB" || store.inserted[0].Income {
		t.Fatalf("transaction: %+v", store.inserted[0])
	}
	if store.inserted[1].Category != core.UncategorizedCategory {
		t.Fatalf("transaction: %+v", store.inserted[1])
	}

	// Staging rows are gone and the sync queue saw both ids.
	if _, ok := store.uploads[created.UploadID]; ok {
		t.Fatal("staged upload not deleted after submit")
	}
	if len(pub.published) != 1 || len(pub.published[0]) != 2 {
		t.Fatalf("published: %v", pub.published)
	}
}

func TestSubmitUploadHeaderError(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, nil)
	created := createUpload(t, ts)

	resp, err := http.Post(fmt.Sprintf("%s/api/upload/%d/submit", ts.URL, created.UploadID),
		"application/json", submitBody([]string{"Date", "-", "Amount"}, 3))
	if err != nil {
		t.Fatalf("post submit: %v", err)
	}
	var result submitResult
	decodeOK(t, resp, &result)
	if result.Status != "header_error" {
		t.Fatalf("result: %+v", result)
	}
	if !strings.Contains(result.HeaderError, "Description") {
		t.Fatalf("header error: %q", result.HeaderError)
	}

	// A rejected submit keeps the staging rows.
	if _, ok := store.uploads[created.UploadID]; !ok {
		t.Fatal("staged upload deleted after rejection")
	}
	if len(store.inserted) != 0 {
		t.Fatalf("inserted: %v", store.inserted)
	}
}

func TestSubmitUploadCellError(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, nil)
	created := createUpload(t, ts)

	// Date format 0 is YYYY/MM/DD; the staged cells use dashes.
	resp, err := http.Post(fmt.Sprintf("%s/api/upload/%d/submit", ts.URL, created.UploadID),
		"application/json", submitBody([]string{"Date", "Description", "Amount"}, 0))
	if err != nil {
		t.Fatalf("post submit: %v", err)
	}
	var result submitResult
	decodeOK(t, resp, &result)
	if result.Status != "cell_error" {
		t.Fatalf("result: %+v", result)
	}
	if result.Row != 0 || result.Col != 0 {
		t.Fatalf("cell location: %+v", result)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("inserted: %v", store.inserted)
	}
}

func TestSubmitUploadBadSelectionCount(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), nil)
	created := createUpload(t, ts)

	resp, err := http.Post(fmt.Sprintf("%s/api/upload/%d/submit", ts.URL, created.UploadID),
		"application/json", submitBody([]string{"Date", "Amount"}, 3))
	if err != nil {
		t.Fatalf("post submit: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAccounts(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), nil)

	body, _ := json.Marshal(map[string]string{"name": "Checking"})
	resp, err := http.Post(ts.URL+"/api/accounts/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post account: %v", err)
	}
	decodeOK(t, resp, nil)

	resp, err = http.Get(ts.URL + "/api/accounts/")
	if err != nil {
		t.Fatalf("get accounts: %v", err)
	}
	var out struct {
		Accounts []string `json:"accounts"`
	}
	decodeOK(t, resp, &out)
	if len(out.Accounts) != 1 || out.Accounts[0] != "Checking" {
		t.Fatalf("accounts: %v", out.Accounts)
	}

	// Empty names are rejected before the store sees them.
	body, _ = json.Marshal(map[string]string{"name": "   "})
	resp, err = http.Post(ts.URL+"/api/accounts/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post account: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSeriesEndpoints(t *testing.T) {
	store := newFakeStore()
	store.series = &core.CategorySeries{
		Categories: []string{"Food", "Software"},
		Dates:      []string{"2025-01-01", "2025-02-01"},
		Amounts:    [][]float64{{3.5, 4}, {2, 0}},
	}
	ts := newTestServer(t, store, nil)

	for _, path := range []string{"/api/transactions", "/api/expenses", "/api/income"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		var series core.CategorySeries
		decodeOK(t, resp, &series)
		if len(series.Categories) != 2 || len(series.Amounts) != 2 {
			t.Fatalf("%s: %+v", path, series)
		}
	}
}

func TestStackedEndpoint(t *testing.T) {
	store := newFakeStore()
	store.series = &core.CategorySeries{
		Categories: []string{"A", "B"},
		Dates:      []string{"2025-01-01", "2025-02-01"},
		Amounts:    [][]float64{{1, 3}, {2, 4}},
	}
	ts := newTestServer(t, store, nil)

	resp, err := http.Get(ts.URL + "/api/expenses/stacked")
	if err != nil {
		t.Fatalf("get stacked: %v", err)
	}
	var out stackedSeries
	decodeOK(t, resp, &out)
	if len(out.Bands) != 2 || out.Bands[1].Key != "B" {
		t.Fatalf("bands: %+v", out.Bands)
	}
	// Band B sits on top of band A.
	if got := out.Bands[1].Baseline[0]; math.Abs(got-1) > 1e-9 {
		t.Fatalf("baseline: %v", out.Bands[1].Baseline)
	}
	if got := out.Bands[1].Top[1]; math.Abs(got-6) > 1e-9 {
		t.Fatalf("top: %v", out.Bands[1].Top)
	}
}

func TestPublisherFailureDoesNotFailSubmit(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: fmt.Errorf("broker down")}
	ts := newTestServer(t, store, pub)
	created := createUpload(t, ts)

	resp, err := http.Post(fmt.Sprintf("%s/api/upload/%d/submit", ts.URL, created.UploadID),
		"application/json", submitBody([]string{"Date", "Description", "Amount"}, 3))
	if err != nil {
		t.Fatalf("post submit: %v", err)
	}
	var result submitResult
	decodeOK(t, resp, &result)
	if result.Status != "ok" {
		t.Fatalf("result: %+v", result)
	}
	if len(store.inserted) != 2 {
		t.Fatalf("inserted: %v", store.inserted)
	}
}
