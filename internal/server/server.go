// Package server exposes the desktop agent's state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tetherctl/internal/agent"
	"tetherctl/internal/api"
	"tetherctl/internal/metrics"
	"tetherctl/internal/model"
	"tetherctl/internal/pairing"
	"tetherctl/internal/session"
)

// DefaultUsageWindow is used when /api/v1/usage has no window parameter.
const DefaultUsageWindow = 30 * 24 * time.Hour

// SessionSource lists closed sessions.
type SessionSource interface {
	Sessions() ([]model.Session, error)
}

// Server serves the last delivered tick plus the session history. It is an
// agent observer; handlers never touch the agent directly.
type Server struct {
	history SessionSource
	metrics http.Handler
	clock   clock.Clock
	log     *zap.Logger

	mu   sync.RWMutex
	last api.StatusResponse
}

// Options configures New.
type Options struct {
	History SessionSource
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Clock   clock.Clock
	Log     *zap.Logger
}

// New constructs a server.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Server{history: opts.History, metrics: opts.Metrics, clock: opts.Clock, log: opts.Log.Named("server")}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/usage", s.handleUsage).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return r
}

// Serve runs the HTTP server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()
	s.log.Info("status api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// OnTick caches the tick for /api/v1/status.
func (s *Server) OnTick(tick agent.Tick) {
	status := api.StatusResponse{LastTickAt: tick.At.UTC()}
	if name, ok := tick.Poll.Status.PhoneName(); ok {
		status.Paired = true
		status.PhoneName = name
		status.InterfaceName = tick.Poll.InterfaceName
	}
	if r := tick.Poll.Reading; r != nil {
		status.Signal = &api.Signal{Quality: int(r.Quality), QualityName: r.Quality.String(), Type: string(r.Type)}
	}
	status.Session = liveSession(tick.Session)
	if tick.Poll.Err != nil {
		status.LastError = tick.Poll.Err.Error()
		status.LastReason = pairing.ReasonOf(tick.Poll.Err)
	}

	s.mu.Lock()
	s.last = status
	s.mu.Unlock()
}

func (s *Server) OnPairingStatusChanged(model.PairingStatus) {}

func (s *Server) OnSignalReadingChanged(*model.SignalReading) {}

// OnSessionUpdated keeps the session current after the final flush.
func (s *Server) OnSessionUpdated(snap session.Snapshot) {
	s.mu.Lock()
	s.last.Session = liveSession(snap)
	s.mu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	status := s.last
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	items, err := s.sessions()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := api.SessionsResponse{Sessions: make([]api.SessionRecord, 0, len(items))}
	for _, it := range items {
		resp.Sessions = append(resp.Sessions, api.SessionRecord{
			ID:               it.ID,
			PhoneName:        it.PhoneName,
			InterfaceName:    it.InterfaceName,
			StartedAt:        it.StartedAt,
			EndedAt:          it.EndedAt,
			BytesTransferred: it.BytesTransferred,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	window := DefaultUsageWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := ParseWindow(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		window = parsed
	}

	items, err := s.sessions()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	since := s.clock.Now().UTC().Add(-window)
	sum := metrics.Summarize(items, since)
	resp := api.UsageResponse{
		Window:        window.String(),
		Since:         since,
		Count:         sum.Count,
		TotalBytes:    sum.TotalBytes,
		TotalDuration: sum.TotalDuration.String(),
		Days:          make([]api.DayUsage, 0, len(sum.Days)),
	}
	for _, d := range sum.Days {
		resp.Days = append(resp.Days, api.DayUsage{Day: d.Day.Format("2006-01-02"), Sessions: d.Sessions, Bytes: d.Bytes})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sessions() ([]model.Session, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Sessions()
}

// ParseWindow accepts Go durations plus a whole-day form such as "7d".
func ParseWindow(raw string) (time.Duration, error) {
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid window %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return d, nil
}

func liveSession(snap session.Snapshot) *api.LiveSession {
	if !snap.Active {
		return nil
	}
	return &api.LiveSession{
		ID:               snap.ID,
		PhoneName:        snap.PhoneName,
		InterfaceName:    snap.InterfaceName,
		StartedAt:        snap.StartedAt.UTC(),
		BytesTransferred: snap.BytesTransferred,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
