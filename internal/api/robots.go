package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/cozmonaut/cozmonaut/internal/httputil"
	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/supervisor"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

// RobotStatus is one entry of GET /api/robots.
type RobotStatus struct {
	ID      robot.ID                                  `json:"id"`
	Running bool                                      `json:"running"`
	Loops   map[supervisor.Loop]supervisor.LoopStatus `json:"loops,omitempty"`
}

func (s *Server) listRobots(w http.ResponseWriter, r *http.Request) {
	running := s.sup.Running()
	out := make([]RobotStatus, 0, s.reg.Len())
	for _, id := range s.reg.IDs() {
		st := RobotStatus{ID: id, Running: slices.Contains(running, id)}
		st.Loops, _ = s.sup.Status(id)
		out = append(out, st)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) disconnectRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	stopped := s.sup.StopForRobot(id)
	if !stopped {
		stopped = s.reg.RemoveRobot(id)
	}
	if !stopped {
		httputil.NotFound(w, fmt.Sprintf("robot %d not found", id))
		return
	}
	if s.recent != nil {
		s.recent.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) monitorFor(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	id, ok := robotID(w, r)
	if !ok {
		return nil, false
	}
	m, ok := s.reg.GetMonitor(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("robot %d not found", id))
		return nil, false
	}
	return m, true
}

func (s *Server) showMonitor(w http.ResponseWriter, r *http.Request) {
	if m, ok := s.monitorFor(w, r); ok {
		httputil.WriteJSONOK(w, m.Snapshot())
	}
}

func (s *Server) showDelays(w http.ResponseWriter, r *http.Request) {
	if m, ok := s.monitorFor(w, r); ok {
		httputil.WriteJSONOK(w, m.Delays())
	}
}

// updateDelays accepts {"battery":"1s","imu":"50ms","wheel_speeds":"..."};
// omitted channels keep their interval. The loops pick the change up on
// their next cycle.
func (s *Server) updateDelays(w http.ResponseWriter, r *http.Request) {
	m, ok := s.monitorFor(w, r)
	if !ok {
		return
	}
	var d monitor.Delays
	if err := httputil.DecodeJSON(r, &d); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := m.SetDelays(d); err != nil {
		if errors.Is(err, monitor.ErrInvalidDelay) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, m.Delays())
}

// listTracks returns recent tracks from memory, or from the database with
// ?source=db.
func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	id, ok := robotID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r, 50, 1000)
	if !ok {
		return
	}

	var tracks []vision.Track
	switch src := r.URL.Query().Get("source"); src {
	case "", "memory":
		if s.recent == nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, "recent tracks disabled")
			return
		}
		tracks = s.recent.Recent(id, limit)
	case "db":
		if !s.requireDB(w) {
			return
		}
		var err error
		tracks, err = s.db.TrackEvents(r.Context(), id, limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve tracks: %v", err))
			return
		}
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown source %q", src))
		return
	}
	if tracks == nil {
		tracks = []vision.Track{}
	}
	httputil.WriteJSONOK(w, tracks)
}

func (s *Server) listFriends(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	friends, err := s.db.ListFriends(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list friends: %v", err))
		return
	}
	httputil.WriteJSONOK(w, friends)
}
