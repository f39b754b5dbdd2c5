package engage

import (
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pursuit/internal/httputil"
)

// Stats is a point-in-time view of loop activity.
type Stats struct {
	State          string           `json:"state"`
	Frames         int64            `json:"frames"`
	FramesDrained  int64            `json:"frames_drained"`
	DrainErrors    int64            `json:"drain_errors"`
	Decisions      int64            `json:"decisions"`
	Commands       int64            `json:"commands"`
	NoCommand      int64            `json:"no_command"`
	Acks           int64            `json:"acks"`
	MissedAcks     int64            `json:"missed_acks"`
	Aborted        int64            `json:"aborted"`
	WriteErrors    int64            `json:"write_errors"`
	Actions        map[string]int64 `json:"actions"`
	LastAction     string           `json:"last_action,omitempty"`
	LastCommandAt  time.Time        `json:"last_command_at,omitzero"`
	LastAckLatency time.Duration    `json:"last_ack_latency_ns"`
}

// Stats returns a copy of the loop counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Actions = make(map[string]int64, len(c.stats.Actions))
	for k, v := range c.stats.Actions {
		s.Actions[k] = v
	}
	return s
}

// AttachAdminRoutes mounts GET /debug/engage, reporting loop state and
// counters. Like the other debug routes it is reachable only over localhost
// or the tailnet.
func (c *Controller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("engage", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		httputil.WriteJSONOK(w, c.Stats())
	})
}
