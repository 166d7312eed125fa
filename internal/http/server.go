// Package http serves the moneta REST API and the embedded web UI.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"moneta/internal/core"
	appweb "moneta/web"
)

// Store is the persistence surface the handlers need. *storage.SQLiteRepository
// implements it; tests substitute fakes.
type Store interface {
	CreateUpload(ctx context.Context, filename string, headers []string, rows [][]string) (int64, error)
	UploadHeaders(ctx context.Context, uploadID int64) ([]string, error)
	UploadCells(ctx context.Context, uploadID int64, rowIndex, rowCount int) ([]string, error)
	AllUploadCells(ctx context.Context, uploadID int64) ([]string, error)
	DeleteUpload(ctx context.Context, uploadID int64) error

	ListAccounts(ctx context.Context) ([]string, error)
	AddAccount(ctx context.Context, name string) error

	InsertTransactions(ctx context.Context, txns []core.Transaction) ([]int64, error)
	TransactionSeries(ctx context.Context) (*core.CategorySeries, error)
	ExpenseSeries(ctx context.Context) (*core.CategorySeries, error)
	IncomeSeries(ctx context.Context) (*core.CategorySeries, error)
}

// SyncPublisher enqueues freshly imported transactions for export. A nil
// publisher disables queueing; the worker's backup sweep still picks the
// rows up from their pending sync status.
type SyncPublisher interface {
	PublishTransactionSync(ctx context.Context, transactionIDs []int64) error
}

// Options tunes request handling limits.
type Options struct {
	// MaxUploadBytes caps the accepted upload body size.
	MaxUploadBytes int64
	// MaxPageRows caps row_count on the rows endpoint.
	MaxPageRows int
}

func (o *Options) withDefaults() Options {
	out := Options{MaxUploadBytes: 10 << 20, MaxPageRows: 1000}
	if o == nil {
		return out
	}
	if o.MaxUploadBytes > 0 {
		out.MaxUploadBytes = o.MaxUploadBytes
	}
	if o.MaxPageRows > 0 {
		out.MaxPageRows = o.MaxPageRows
	}
	return out
}

type Server struct {
	http.Server
	store        Store
	publisher    SyncPublisher
	opts         Options
	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, store Store, publisher SyncPublisher, opts *Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:       store,
		publisher:   publisher,
		opts:        opts.withDefaults(),
		rateLimiter: newRateLimiter(),
	}

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
		mux.Handle("GET /{$}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.ServeFileFS(w, r, appweb.StaticFS, "static/index.html")
		}))
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/upload/{$}", s.withAPIMiddleware(s.handleCreateUpload))
	mux.HandleFunc("GET /api/upload/options", s.withAPIMiddleware(s.handleUploadOptions))
	mux.HandleFunc("GET /api/upload/{id}/rows", s.withAPIMiddleware(s.handleUploadRows))
	mux.HandleFunc("POST /api/upload/{id}/submit", s.withAPIMiddleware(s.handleSubmitUpload))

	mux.HandleFunc("GET /api/accounts/{$}", s.withAPIMiddleware(s.handleListAccounts))
	mux.HandleFunc("POST /api/accounts/{$}", s.withAPIMiddleware(s.handleAddAccount))

	mux.HandleFunc("GET /api/transactions", s.withAPIMiddleware(s.handleTransactions))
	mux.HandleFunc("GET /api/expenses", s.withAPIMiddleware(s.handleExpenses))
	mux.HandleFunc("GET /api/income", s.withAPIMiddleware(s.handleIncome))
	mux.HandleFunc("GET /api/expenses/stacked", s.withAPIMiddleware(s.handleExpensesStacked))
	mux.HandleFunc("GET /api/income/stacked", s.withAPIMiddleware(s.handleIncomeStacked))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withAPIMiddleware adds security headers, rate limiting, and request logging.
func (s *Server) withAPIMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		// Rate limit writes only; chart polling stays unthrottled.
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeErr(w, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
