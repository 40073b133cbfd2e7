// Package api serves the HTTP view of connected robots: loop states,
// monitor snapshots, polling intervals, recent tracks and telemetry charts.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/db"
	"github.com/cozmonaut/cozmonaut/internal/httputil"
	"github.com/cozmonaut/cozmonaut/internal/registry"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/supervisor"
)

// ANSI escape codes for the access log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server answers API requests. DB and Recent may be nil; the endpoints that
// need them then answer 503.
type Server struct {
	reg    *registry.Registry
	sup    *supervisor.Supervisor
	recent *supervisor.RecentTracks
	db     *db.DB
}

func NewServer(reg *registry.Registry, sup *supervisor.Supervisor, recent *supervisor.RecentTracks, store *db.DB) *Server {
	return &Server{reg: reg, sup: sup, recent: recent, db: store}
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

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/robots", s.listRobots)
	mux.HandleFunc("DELETE /api/robots/{id}", s.disconnectRobot)
	mux.HandleFunc("GET /api/robots/{id}/monitor", s.showMonitor)
	mux.HandleFunc("GET /api/robots/{id}/delays", s.showDelays)
	mux.HandleFunc("PUT /api/robots/{id}/delays", s.updateDelays)
	mux.HandleFunc("GET /api/robots/{id}/tracks", s.listTracks)
	mux.HandleFunc("GET /api/robots/{id}/battery/stats", s.batteryStats)
	mux.HandleFunc("GET /api/robots/{id}/battery.png", s.batteryPlot)
	mux.HandleFunc("GET /api/robots/{id}/telemetry/chart", s.telemetryChart)
	mux.HandleFunc("GET /api/friends", s.listFriends)
	return mux
}

// robotID parses the {id} path value, writing a 400 on failure.
func robotID(w http.ResponseWriter, r *http.Request) (robot.ID, bool) {
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid robot id")
		return 0, false
	}
	return robot.ID(n), true
}

// queryLimit parses ?limit=, bounded to [1, limitMax].
func queryLimit(w http.ResponseWriter, r *http.Request, def, limitMax int) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return 0, false
	}
	return min(n, limitMax), true
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "storage disabled")
		return false
	}
	return true
}
