package registry

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/cozmonaut/cozmonaut/internal/httputil"
	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/tracker"
)

// RobotDump is one robot in the registry dump.
type RobotDump struct {
	Monitor monitor.Snapshot `json:"monitor"`
	Tracker tracker.Stats    `json:"tracker"`
}

// AttachAdminRoutes serves a JSON dump of every registered robot at
// /debug/registry.
func (r *Registry) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("registry", "Registered robots with monitor snapshots and tracker stats", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSONOK(w, r.Dump())
	})
}

// Dump returns the monitor snapshot and tracker stats of every robot.
func (r *Registry) Dump() []RobotDump {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RobotDump, 0, len(r.entries))
	for _, id := range r.idsLocked() {
		e := r.entries[id]
		out = append(out, RobotDump{Monitor: e.monitor.Snapshot(), Tracker: e.tracker.Stats()})
	}
	return out
}
