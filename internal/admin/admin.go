// Package admin exposes strategy management and ledger summaries over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/engine"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/gamma-omg/cycle-trader/internal/strategy"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Registry interface {
	List() []strategy.Entry
	Get(name string) (strategy.Entry, error)
	Enable(name string) bool
	Disable(name string) bool
	UpdateParamsErr(name string, p strategy.Params) error
	SetSchedule(name, spec string) error
}

type Scheduler interface {
	Reschedule(name, spec string) error
}

type Positions interface {
	Positions(name string) []engine.Position
}

type Ledger interface {
	Summary(ctx context.Context) (ledger.Summary, error)
	Trades(ctx context.Context, limit int) ([]ledger.TradeRecord, error)
	Close() error
}

// LedgerOpener opens the ledger for a single request.
type LedgerOpener func() (Ledger, error)

const defaultTradesLimit = 50

type Server struct {
	log        *zap.Logger
	registry   Registry
	scheduler  Scheduler
	positions  Positions
	openLedger LedgerOpener
	http       *http.Server
}

func NewServer(log *zap.Logger, addr string, registry Registry, scheduler Scheduler, positions Positions, openLedger LedgerOpener) *Server {
	s := &Server{
		log:        log,
		registry:   registry,
		scheduler:  scheduler,
		positions:  positions,
		openLedger: openLedger,
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/strategies", s.handleList).Methods("GET")
	router.HandleFunc("/strategies/{name}", s.handleGet).Methods("GET")
	router.HandleFunc("/strategies/{name}/enable", s.handleEnable).Methods("POST")
	router.HandleFunc("/strategies/{name}/disable", s.handleDisable).Methods("POST")
	router.HandleFunc("/strategies/{name}/params", s.handleParams).Methods("POST")
	router.HandleFunc("/strategies/{name}/schedule", s.handleSchedule).Methods("POST")
	router.HandleFunc("/strategies/{name}/positions", s.handlePositions).Methods("GET")
	router.HandleFunc("/trades", s.handleTrades).Methods("GET")
	router.HandleFunc("/trades/summary", s.handleSummary).Methods("GET")

	return router
}

// ListenAndServe blocks until the server fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("admin server listening", zap.String("addr", s.http.Addr))

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Get(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.registry.Enable(name) {
		s.writeError(w, errs.Newf(errs.NotFound, "strategy %q not found", name))
		return
	}

	s.log.Info("strategy enabled", zap.String("strategy", name))
	s.writeMessage(w, "strategy "+name+" enabled")
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.registry.Disable(name) {
		s.writeError(w, errs.Newf(errs.NotFound, "strategy %q not found", name))
		return
	}

	s.log.Info("strategy disabled", zap.String("strategy", name))
	s.writeMessage(w, "strategy "+name+" disabled")
}

type paramsRequest struct {
	Params strategy.Params `json:"params"`
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req paramsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Params == nil {
		s.writeError(w, errs.Wrap(errs.InvalidInput, "request body must be {\"params\": {...}}", err))
		return
	}

	if err := s.registry.UpdateParamsErr(name, req.Params); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info("strategy params updated", zap.String("strategy", name), zap.Any("params", req.Params))
	s.writeMessage(w, "strategy "+name+" params updated")
}

type scheduleRequest struct {
	Schedule string `json:"schedule"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Schedule == "" {
		s.writeError(w, errs.Wrap(errs.InvalidInput, "request body must be {\"schedule\": \"...\"}", err))
		return
	}

	if _, err := s.registry.Get(name); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.scheduler.Reschedule(name, req.Schedule); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.registry.SetSchedule(name, req.Schedule); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeMessage(w, "strategy "+name+" rescheduled")
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.registry.Get(name); err != nil {
		s.writeError(w, err)
		return
	}

	positions := s.positions.Positions(name)
	if positions == nil {
		positions = []engine.Position{}
	}

	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, errs.Newf(errs.InvalidInput, "invalid limit %q", v))
			return
		}
		limit = n
	}

	s.withLedger(w, func(l Ledger) (any, error) {
		return l.Trades(r.Context(), limit)
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.withLedger(w, func(l Ledger) (any, error) {
		return l.Summary(r.Context())
	})
}

func (s *Server) withLedger(w http.ResponseWriter, fn func(l Ledger) (any, error)) {
	l, err := s.openLedger()
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() {
		if err := l.Close(); err != nil {
			s.log.Warn("failed to close ledger", zap.Error(err))
		}
	}()

	res, err := fn(l)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

// statusOf separates caller mistakes from transient failures.
func statusOf(err error) int {
	switch errs.CodeOf(err) {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidInput, errs.Config:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusServiceUnavailable {
		s.log.Error("admin request failed", zap.Error(err))
	}

	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeMessage(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}
