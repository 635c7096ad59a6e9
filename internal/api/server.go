// Package api serves the host daemon's JSON and chart routes.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/banshee-data/deauth.watch/internal/db"
	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/httputil"
	"github.com/banshee-data/deauth.watch/internal/locate"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
	"github.com/banshee-data/deauth.watch/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// DefaultWindow is the half-width used when /api/events omits window.
const DefaultWindow = 60 * time.Second

// EventReader is the store access the API needs.
type EventReader interface {
	EventsInWindow(ctx context.Context, center, window uint64) ([]event.Record, error)
	SensorSummaries(ctx context.Context) ([]db.SensorSummary, error)
}

// Estimator publishes the newest localization results.
type Estimator interface {
	Latest() []locate.Estimate
}

type Server struct {
	events  EventReader
	locator Estimator
	stats   func() any
	clock   timeutil.Clock
}

// NewServer wires the handlers. locator and stats may be nil.
func NewServer(events EventReader, locator Estimator, stats func() any) *Server {
	return &Server{events: events, locator: locator, stats: stats, clock: timeutil.RealClock{}}
}

// SetClock overrides the clock used for the default event window.
func (s *Server) SetClock(c timeutil.Clock) { s.clock = c }

// Router returns the API routes plus /metrics.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.listEvents).Methods(http.MethodGet)
	api.HandleFunc("/estimates", s.listEstimates).Methods(http.MethodGet)
	api.HandleFunc("/sensors", s.listSensors).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.showStats).Methods(http.MethodGet)
	api.HandleFunc("/version", s.showVersion).Methods(http.MethodGet)
	api.HandleFunc("/charts/timeline", s.timelineChart).Methods(http.MethodGet)
	r.Handle("/metrics", monitoring.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return r
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// windowParams reads center and window in microseconds. center defaults to
// now and window to DefaultWindow.
func (s *Server) windowParams(r *http.Request) (center, window uint64, err error) {
	center = timeutil.Micros(s.clock.Now())
	window = uint64(DefaultWindow.Microseconds())
	q := r.URL.Query()
	if v := q.Get("center"); v != "" {
		if center, err = strconv.ParseUint(v, 10, 64); err != nil {
			return 0, 0, errBadParam("center", v)
		}
	}
	if v := q.Get("window"); v != "" {
		if window, err = strconv.ParseUint(v, 10, 64); err != nil || window == 0 {
			return 0, 0, errBadParam("window", v)
		}
	}
	return center, window, nil
}

type paramError struct{ name, value string }

func (e paramError) Error() string {
	return "invalid " + e.name + " " + strconv.Quote(e.value) + ": want a positive integer of microseconds"
}

func errBadParam(name, value string) error { return paramError{name, value} }

// AttackerEvents groups records for one attacker in time order.
type AttackerEvents struct {
	Attacker event.MAC      `json:"attack_mac"`
	Events   []event.Record `json:"events"`
}

// GroupByAttacker splits records already ordered by attacker then time.
func GroupByAttacker(recs []event.Record) []AttackerEvents {
	var out []AttackerEvents
	for _, r := range recs {
		if n := len(out); n == 0 || out[n-1].Attacker != r.Attacker {
			out = append(out, AttackerEvents{Attacker: r.Attacker})
		}
		last := &out[len(out)-1]
		last.Events = append(last.Events, r)
	}
	return out
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	center, window, err := s.windowParams(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	recs, err := s.events.EventsInWindow(r.Context(), center, window)
	if err != nil {
		httputil.InternalServerError(w, "failed to query events")
		monitoring.Logf("[api] events query failed: %v", err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"center":    center,
		"window":    window,
		"attackers": GroupByAttacker(recs),
	})
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	ests := []locate.Estimate{}
	if s.locator != nil {
		if latest := s.locator.Latest(); latest != nil {
			ests = latest
		}
	}
	httputil.WriteJSONOK(w, ests)
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.events.SensorSummaries(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "failed to query sensors")
		monitoring.Logf("[api] sensors query failed: %v", err)
		return
	}
	if sensors == nil {
		sensors = []db.SensorSummary{}
	}
	httputil.WriteJSONOK(w, sensors)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		httputil.WriteJSONOK(w, map[string]any{})
		return
	}
	httputil.WriteJSONOK(w, s.stats())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}
