package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tally/internal/commands"
	"tally/internal/llm"
	"tally/internal/services"
)

// Server exposes the ledger over a JSON API. Chat messages go through the
// intent extractor, everything else is plain REST.
type Server struct {
	dispatcher *Dispatcher
	httpServer *http.Server
}

// Dispatcher bundles what handlers need to execute commands.
type Dispatcher struct {
	commands  *commands.Dispatcher
	ledger    *services.LedgerService
	schedule  *services.ScheduleService
	dashboard *services.DashboardService
	llm       *llm.Client
}

func NewServer(port string, cmd *commands.Dispatcher, ledger *services.LedgerService, schedule *services.ScheduleService, dashboard *services.DashboardService, llmClient *llm.Client) *Server {
	d := &Dispatcher{
		commands:  cmd,
		ledger:    ledger,
		schedule:  schedule,
		dashboard: dashboard,
		llm:       llmClient,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", d.handleChat)
		r.Post("/commands", d.handleCommand)

		r.Get("/counterparties", d.handleListCounterparties)
		r.Get("/counterparties/{name}/balance", d.handleBalance)
		r.Put("/counterparties/{name}/contact", d.handleUpdateContact)

		r.Post("/dues", d.handleRecordDue)
		r.Get("/dues/pending", d.handleListPendingDues)
		r.Post("/settlements", d.handleSettle)

		r.Post("/rules", d.handleCreateRule)
		r.Get("/rules", d.handleListRules)
		r.Delete("/rules/{id}", d.handleDeactivateRule)

		r.Get("/occurrences/pending", d.handleListPendingOccurrences)
		r.Post("/occurrences/{id}/pay", d.handleMarkPaid)
		r.Post("/occurrences/{id}/undo", d.handleUndoPaid)

		r.Get("/dashboard/summary", d.handleDashboard)
	})

	return &Server{
		dispatcher: d,
		httpServer: &http.Server{
			Addr:         ":" + port,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
