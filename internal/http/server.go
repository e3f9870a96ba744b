package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/ports"
	"ledger/internal/services"
)

// Handler dependencies. The services package provides the implementations.
type (
	LedgerService interface {
		Create(ctx context.Context, ownerID string, in core.TransactionInput) (core.Transaction, error)
		Update(ctx context.Context, ownerID, transactionID string, in core.TransactionInput) (core.Transaction, error)
		Get(ctx context.Context, ownerID, transactionID string) (core.Transaction, error)
	}

	TransactionQuery interface {
		List(ctx context.Context, ownerID string, filter core.TransactionFilter) ([]core.TransactionWithAccount, error)
	}

	AccountService interface {
		CreateAccount(ctx context.Context, ownerID string, a core.Account) (core.Account, error)
		GetAccount(ctx context.Context, ownerID, accountID string) (core.Account, error)
		ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error)
		SetBudget(ctx context.Context, ownerID string, limit core.Money) (core.Budget, error)
		GetBudget(ctx context.Context, ownerID string) (services.BudgetSummary, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Deps groups what the server needs. Receipts may be nil when scanning is
// disabled.
type Deps struct {
	Ledger   LedgerService
	Query    TransactionQuery
	Accounts AccountService
	Receipts ports.ReceiptExtractor
	Identity IdentityResolver
	Health   Pinger
}

// Options tune the transport.
type Options struct {
	RateLimitPerMinute int
	ReceiptMaxBytes    int64
}

type Server struct {
	http.Server
	ledger          LedgerService
	query           TransactionQuery
	accounts        AccountService
	receipts        ports.ReceiptExtractor
	health          Pinger
	receiptMaxBytes int64
	logger          *log.Logger
	rateLimiter     *ratelimit.Limiter
	detector        *security.Detector
	tracer          *trace.Middleware
	shutdownOnce    sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.ReceiptMaxBytes <= 0 {
		opts.ReceiptMaxBytes = 10 << 20
	}

	s := &Server{
		ledger:          deps.Ledger,
		query:           deps.Query,
		accounts:        deps.Accounts,
		receipts:        deps.Receipts,
		health:          deps.Health,
		receiptMaxBytes: opts.ReceiptMaxBytes,
		logger:          logger.WithComponent(log.ComponentHTTP),
		rateLimiter:     ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:        security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)

	r := chi.NewRouter()
	r.Use(log.Middleware(s.logger))
	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
		}))
		r.Use(requireOwner(deps.Identity))

		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/accounts/{id}", s.handleGetAccount)

		r.Put("/budget", s.handleSetBudget)
		r.Get("/budget", s.handleGetBudget)

		r.Post("/transactions", s.handleCreateTransaction)
		r.Get("/transactions", s.handleListTransactions)
		r.Get("/transactions/{id}", s.handleGetTransaction)
		r.Put("/transactions/{id}", s.handleUpdateTransaction)

		r.Post("/receipts/scan", s.handleScanReceipt)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "store unavailable").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
