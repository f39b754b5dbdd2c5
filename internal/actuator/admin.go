package actuator

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pursuit/internal/httputil"
)

// StatsReporter is implemented by links that expose traffic counters.
type StatsReporter interface {
	Stats() Stats
}

// AttachAdminRoutes mounts read-only link diagnostics under /debug/. These
// routes are accessible only over localhost or the tailnet.
func AttachAdminRoutes(mux *http.ServeMux, link StatsReporter) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("actuator", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		httputil.WriteJSONOK(w, link.Stats())
	})
}
