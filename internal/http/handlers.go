package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"moneta/internal/core"
	"moneta/internal/stack"
	"moneta/internal/storage"
	"moneta/internal/upload"
)

// uploadCreated is the response to a new upload: the staging handle plus
// everything the column-mapping UI needs.
type uploadCreated struct {
	UploadID          int64    `json:"upload_id"`
	Headers           []string `json:"headers"`
	HeaderSuggestions []string `json:"header_suggestions"`
	RowCount          int      `json:"row_count"`
}

// handleCreateUpload accepts the raw file bytes, parses them into a grid, and
// stages every cell verbatim. Classification happens at submit time.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, r, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		slog.ErrorContext(r.Context(), "Upload body read failed", "error", err)
		writeErr(w, r, http.StatusBadRequest, "could not read upload body")
		return
	}
	if len(body) == 0 {
		writeErr(w, r, http.StatusBadRequest, "empty upload")
		return
	}

	grid, err := upload.Parse(body)
	if err != nil {
		writeErr(w, r, http.StatusUnprocessableEntity, "could not parse upload: "+err.Error())
		return
	}

	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	id, err := s.store.CreateUpload(r.Context(), filename, grid.Headers, grid.DataRows())
	if err != nil {
		slog.ErrorContext(r.Context(), "Upload staging failed", "error", err, "filename", filename)
		writeErr(w, r, http.StatusInternalServerError, "could not stage upload")
		return
	}

	suggestions := core.SuggestFields(grid.Headers)
	sg := make([]string, len(suggestions))
	for i, f := range suggestions {
		sg[i] = string(f)
	}

	writeOK(w, r, uploadCreated{
		UploadID:          id,
		Headers:           grid.Headers,
		HeaderSuggestions: sg,
		RowCount:          grid.RowCount(),
	})
}

// handleUploadOptions lists the recognized field names and date formats so
// clients never hardcode either enumeration.
func (s *Server) handleUploadOptions(w http.ResponseWriter, r *http.Request) {
	fields := core.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	writeOK(w, r, struct {
		HeaderOptions []string `json:"header_options"`
		DateFormats   []string `json:"date_formats"`
	}{HeaderOptions: names, DateFormats: core.DateFormatDisplays()})
}

func uploadIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// handleUploadRows serves a page of staged cells flattened row-major.
func (s *Server) handleUploadRows(w http.ResponseWriter, r *http.Request) {
	id, err := uploadIDFromPath(r)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid upload id")
		return
	}
	rowIndex, err := strconv.Atoi(r.URL.Query().Get("row_index"))
	if err != nil || rowIndex < 0 {
		writeErr(w, r, http.StatusBadRequest, "invalid row_index")
		return
	}
	rowCount, err := strconv.Atoi(r.URL.Query().Get("row_count"))
	if err != nil || rowCount < 0 {
		writeErr(w, r, http.StatusBadRequest, "invalid row_count")
		return
	}
	if rowCount > s.opts.MaxPageRows {
		writeErr(w, r, http.StatusBadRequest,
			"row_count exceeds page limit of "+strconv.Itoa(s.opts.MaxPageRows))
		return
	}

	cells, err := s.store.UploadCells(r.Context(), id, rowIndex, rowCount)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, r, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if cells == nil {
		cells = []string{}
	}
	writeOK(w, r, struct {
		Cells []string `json:"cells"`
	}{Cells: cells})
}

// submitRequest is the confirmed column mapping for a staged upload.
type submitRequest struct {
	HeaderSelections []string `json:"header_selections"`
	DateFormat       int      `json:"date_format"`
}

// submitResult is the inner payload of the submit endpoint. Mapping and cell
// problems are reported here rather than as envelope errors so clients can
// point at the offending column or cell.
type submitResult struct {
	Status      string `json:"status"`
	HeaderError string `json:"header_error,omitempty"`
	Row         int    `json:"row,omitempty"`
	Col         int    `json:"col,omitempty"`
	CellError   string `json:"cell_error,omitempty"`
}

// handleSubmitUpload classifies the staged cells under the submitted mapping.
// On success the rows become uncategorized transactions, the staging rows are
// deleted, and the sync queue is notified.
func (s *Server) handleSubmitUpload(w http.ResponseWriter, r *http.Request) {
	id, err := uploadIDFromPath(r)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid upload id")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid submit request: "+err.Error())
		return
	}

	fields := make([]core.Field, len(req.HeaderSelections))
	for i, sel := range req.HeaderSelections {
		f, err := core.ParseField(sel)
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, err.Error())
			return
		}
		fields[i] = f
	}

	headers, err := s.store.UploadHeaders(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, r, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Upload headers load failed", "error", err, "upload_id", id)
		writeErr(w, r, http.StatusInternalServerError, "could not load upload")
		return
	}
	if len(fields) != len(headers) {
		writeErr(w, r, http.StatusBadRequest,
			"got "+strconv.Itoa(len(fields))+" selections for "+strconv.Itoa(len(headers))+" columns")
		return
	}

	sel, err := upload.ResolveSelections(fields, req.DateFormat)
	if err != nil {
		var herr *upload.HeaderError
		if errors.As(err, &herr) {
			writeOK(w, r, submitResult{Status: "header_error", HeaderError: herr.Msg})
			return
		}
		writeErr(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cells, err := s.store.AllUploadCells(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Upload cells load failed", "error", err, "upload_id", id)
		writeErr(w, r, http.StatusInternalServerError, "could not load upload")
		return
	}
	grid := &upload.Grid{Headers: headers, Cells: cells}

	txns, err := grid.Validate(sel)
	if err != nil {
		var cerr *upload.CellError
		if errors.As(err, &cerr) {
			writeOK(w, r, submitResult{
				Status:    "cell_error",
				Row:       cerr.Row,
				Col:       cerr.Col,
				CellError: cerr.Msg,
			})
			return
		}
		writeErr(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := s.store.InsertTransactions(r.Context(), txns)
	if err != nil {
		slog.ErrorContext(r.Context(), "Transaction insert failed", "error", err, "upload_id", id)
		writeErr(w, r, http.StatusInternalServerError, "could not import transactions")
		return
	}

	// Queue publication is best effort; the worker's backup sweep covers
	// anything that never makes it onto the queue.
	if s.publisher != nil && len(ids) > 0 {
		if err := s.publisher.PublishTransactionSync(r.Context(), ids); err != nil {
			slog.WarnContext(r.Context(), "Sync publish failed, backup sweep will retry",
				"error", err, "count", len(ids))
		}
	}

	if err := s.store.DeleteUpload(r.Context(), id); err != nil {
		slog.WarnContext(r.Context(), "Staged upload cleanup failed", "error", err, "upload_id", id)
	}

	slog.InfoContext(r.Context(), "Upload submitted",
		"upload_id", id, "transactions", len(ids))
	writeOK(w, r, submitResult{Status: "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Account list failed", "error", err)
		writeErr(w, r, http.StatusInternalServerError, "could not list accounts")
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeOK(w, r, struct {
		Accounts []string `json:"accounts"`
	}{Accounts: accounts})
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeErr(w, r, http.StatusBadRequest, "invalid account request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeErr(w, r, http.StatusUnprocessableEntity, "account name cannot be empty")
		return
	}
	if err := s.store.AddAccount(r.Context(), name); err != nil {
		writeErr(w, r, http.StatusConflict, "could not add account: "+err.Error())
		return
	}
	writeOK(w, r, nil)
}

func (s *Server) writeSeries(w http.ResponseWriter, r *http.Request, series *core.CategorySeries, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "Series query failed", "error", err, "url", r.URL.Path)
		writeErr(w, r, http.StatusInternalServerError, "could not build series")
		return
	}
	writeOK(w, r, series)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	series, err := s.store.TransactionSeries(r.Context())
	s.writeSeries(w, r, series, err)
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	series, err := s.store.ExpenseSeries(r.Context())
	s.writeSeries(w, r, series, err)
}

func (s *Server) handleIncome(w http.ResponseWriter, r *http.Request) {
	series, err := s.store.IncomeSeries(r.Context())
	s.writeSeries(w, r, series, err)
}

// stackedSeries is a category series folded into cumulative chart bands.
type stackedSeries struct {
	Dates []string     `json:"dates"`
	Bands []stack.Band `json:"bands"`
}

func (s *Server) writeStacked(w http.ResponseWriter, r *http.Request, series *core.CategorySeries, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "Series query failed", "error", err, "url", r.URL.Path)
		writeErr(w, r, http.StatusInternalServerError, "could not build series")
		return
	}
	bands, err := stack.Stack(series.Categories, series.Amounts)
	if err != nil {
		slog.ErrorContext(r.Context(), "Series stacking failed", "error", err, "url", r.URL.Path)
		writeErr(w, r, http.StatusInternalServerError, "could not stack series")
		return
	}
	writeOK(w, r, stackedSeries{Dates: series.Dates, Bands: bands})
}

func (s *Server) handleExpensesStacked(w http.ResponseWriter, r *http.Request) {
	series, err := s.store.ExpenseSeries(r.Context())
	s.writeStacked(w, r, series, err)
}

func (s *Server) handleIncomeStacked(w http.ResponseWriter, r *http.Request) {
	series, err := s.store.IncomeSeries(r.Context())
	s.writeStacked(w, r, series, err)
}
