// Package session tracks one file import from preview through submission.
// A Session is the client-side state machine behind the upload wizard: it
// holds the staged upload handle, the user's column mapping, and the locally
// materialized preview rows, and it gates submission on a synchronous
// required-field check. The server remains the source of truth for cell
// content; this layer only prevents obviously incomplete mappings from being
// sent at all.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"moneta/internal/api"
	"moneta/internal/core"
)

// State is the lifecycle phase of a Session.
type State int

const (
	// SelectingFile: no upload accepted yet; the only way forward is Start.
	SelectingFile State = iota
	// PreviewLoaded: the server accepted the file and returned a preview.
	PreviewLoaded
	// Submitted: terminal. The session cannot be reused.
	Submitted
)

func (s State) String() string {
	switch s {
	case SelectingFile:
		return "SelectingFile"
	case PreviewLoaded:
		return "PreviewLoaded"
	case Submitted:
		return "Submitted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Service is the slice of the REST API a Session needs. *api.Client
// implements it; tests substitute fakes.
type Service interface {
	CreateUpload(ctx context.Context, file io.Reader) (*api.UploadCreated, error)
	UploadRows(ctx context.Context, uploadID int64, rowIndex, rowCount int) ([]string, error)
	SubmitUpload(ctx context.Context, uploadID int64, selections []core.Field, dateFormat int) error
}

var (
	ErrNoPreview        = errors.New("no upload preview loaded")
	ErrAlreadySubmitted = errors.New("upload already submitted")
	ErrRequestInFlight  = errors.New("a paging request is already in flight")
)

// Session is one upload-in-progress. It is exclusively owned by the flow that
// created it and must not be shared across goroutines.
type Session struct {
	svc Service

	state      State
	uploadID   int64
	headers    []string
	selections []core.Field
	dateFormat int

	totalRows int
	rows      [][]string
	paging    bool
}

// New creates a Session in SelectingFile.
func New(svc Service) *Session {
	return &Session{svc: svc}
}

func (s *Session) State() State { return s.state }

// UploadID returns the server handle for the staged upload.
func (s *Session) UploadID() int64 { return s.uploadID }

// Headers returns the raw column headers from the uploaded file.
func (s *Session) Headers() []string { return s.headers }

// Selections returns the current column mapping, one entry per header.
func (s *Session) Selections() []core.Field { return s.selections }

// TotalRows is the server-reported row count of the upload.
func (s *Session) TotalRows() int { return s.totalRows }

// Rows returns the preview rows fetched so far.
func (s *Session) Rows() [][]string { return s.rows }

// HasMoreRows reports whether further paging would fetch anything; callers
// use it to disable the "show more" control.
func (s *Session) HasMoreRows() bool { return len(s.rows) < s.totalRows }

// SetDateFormat records which entry of core.DateFormats the file uses.
func (s *Session) SetDateFormat(index int) error {
	if _, err := core.DateLayout(index); err != nil {
		return err
	}
	s.dateFormat = index
	return nil
}

// Start uploads the selected file. On success the session moves to
// PreviewLoaded with selections seeded from the server's suggestions; on
// failure it stays in SelectingFile and the error is surfaced once.
func (s *Session) Start(ctx context.Context, file io.Reader) error {
	if s.state == Submitted {
		return ErrAlreadySubmitted
	}

	created, err := s.svc.CreateUpload(ctx, file)
	if err != nil {
		return err
	}

	selections := make([]core.Field, len(created.HeaderSuggestions))
	for i, sg := range created.HeaderSuggestions {
		f, err := core.ParseField(sg)
		if err != nil {
			return fmt.Errorf("bad header suggestion for column %d: %w", i, err)
		}
		selections[i] = f
	}
	if len(selections) != len(created.Headers) {
		return fmt.Errorf("server sent %d suggestions for %d headers",
			len(selections), len(created.Headers))
	}

	s.state = PreviewLoaded
	s.uploadID = created.UploadID
	s.headers = created.Headers
	s.selections = selections
	s.totalRows = created.RowCount
	s.rows = nil
	s.paging = false
	return nil
}

// UpdateHeaderSelection overrides the mapping for one column. Duplicate
// assignments are allowed here; SelectionError is the validation gate.
func (s *Session) UpdateHeaderSelection(columnIndex int, field core.Field) error {
	if s.state != PreviewLoaded {
		return ErrNoPreview
	}
	if columnIndex < 0 || columnIndex >= len(s.selections) {
		return fmt.Errorf("column index %d out of range (columns=%d)", columnIndex, len(s.selections))
	}
	s.selections[columnIndex] = field
	return nil
}

// SelectionError reports why the current mapping cannot be submitted, or ""
// when it can. Missing required fields are listed in the fixed enumeration
// order; duplicates are reported after all required fields are covered.
func (s *Session) SelectionError() string {
	var missing []string
	for _, required := range core.RequiredFields() {
		found := false
		for _, sel := range s.selections {
			if sel == required {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, string(required))
		}
	}
	if len(missing) > 0 {
		return "missing required headers: " + strings.Join(missing, ", ")
	}

	seen := make(map[core.Field]bool, len(s.selections))
	var dups []string
	for _, sel := range s.selections {
		if sel == core.FieldUnassigned {
			continue
		}
		if seen[sel] && !containsString(dups, string(sel)) {
			dups = append(dups, string(sel))
		}
		seen[sel] = true
	}
	if len(dups) > 0 {
		return "duplicate header selections: " + strings.Join(dups, ", ")
	}
	return ""
}

// RequestMoreRows fetches up to pageSize further preview rows and appends
// them. It returns the number of rows fetched; once the whole upload is
// materialized it is a no-op returning zero. Only one paging request may be
// outstanding at a time: since the session is single-goroutine, the guard
// trips only when a Service implementation re-enters the session from inside
// UploadRows, which would otherwise corrupt the paging offset.
func (s *Session) RequestMoreRows(ctx context.Context, pageSize int) (int, error) {
	if s.state != PreviewLoaded {
		return 0, ErrNoPreview
	}
	if s.paging {
		return 0, ErrRequestInFlight
	}

	remaining := s.totalRows - len(s.rows)
	if remaining <= 0 || pageSize <= 0 {
		return 0, nil
	}
	count := pageSize
	if count > remaining {
		count = remaining
	}

	s.paging = true
	defer func() { s.paging = false }()

	cells, err := s.svc.UploadRows(ctx, s.uploadID, len(s.rows), count)
	if err != nil {
		return 0, err
	}

	width := len(s.headers)
	if width == 0 || len(cells)%width != 0 {
		return 0, fmt.Errorf("row page of %d cells does not divide into %d columns", len(cells), width)
	}
	for i := 0; i+width <= len(cells); i += width {
		s.rows = append(s.rows, cells[i:i+width])
	}
	return len(cells) / width, nil
}

// Submit sends the confirmed mapping. It refuses locally when SelectionError
// is non-empty; on server rejection (*api.SubmitFailure or any other error)
// the session stays in PreviewLoaded so the user can fix and retry.
func (s *Session) Submit(ctx context.Context) error {
	switch s.state {
	case Submitted:
		return ErrAlreadySubmitted
	case SelectingFile:
		return ErrNoPreview
	}
	if msg := s.SelectionError(); msg != "" {
		return errors.New(msg)
	}

	if err := s.svc.SubmitUpload(ctx, s.uploadID, s.selections, s.dateFormat); err != nil {
		return err
	}
	s.state = Submitted
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
