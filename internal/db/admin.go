package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pursuit/internal/httputil"
	"github.com/banshee-data/pursuit/internal/monitoring"
)

// runFromRequest returns the ?run= parameter or the latest run.
func (db *DB) runFromRequest(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("run"); id != "" {
		return id, nil
	}
	return db.LatestRunID()
}

// AttachAdminRoutes mounts journal diagnostics under /debug/. These routes
// are accessible only over localhost or the tailnet.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Errorf("failed to create tailsql server: %v", err)
	} else {
		tsql.SetDB("sqlite://pursuit.db", db.DB, &tailsql.DBOptions{
			Label: "Engagement journal",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(db.handleBackup))
	debug.Handle("journal", "Commands and receipt latency for a run (?run=<id>)", http.HandlerFunc(db.handleJournal))
	debug.Handle("actions", "Commands sent per action", http.HandlerFunc(db.handleActionsChart))
	debug.HandleSilentFunc("ack-latency.png", db.handleLatencyPlot)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("pursuit-backup-%d.db", time.Now().Unix()))
	if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Warnf("Failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Warnf("Failed to write backup: %v", err)
	}
}

type journalResponse struct {
	RunID    string          `json:"run_id"`
	Commands []CommandRecord `json:"commands"`
	Latency  LatencySummary  `json:"latency"`
}

func (db *DB) handleJournal(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	runID, err := db.runFromRequest(r)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to find run: %v", err))
		return
	}

	resp := journalResponse{RunID: runID}
	if resp.Commands, err = db.Commands(runID); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read commands: %v", err))
		return
	}
	if resp.Latency, err = db.LatencySummary(runID); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarise latency: %v", err))
		return
	}
	httputil.WriteJSONOK(w, resp)
}

// handleActionsChart renders a bar chart of commands per action kind.
func (db *DB) handleActionsChart(w http.ResponseWriter, r *http.Request) {
	runID, err := db.runFromRequest(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to find run: %v", err), http.StatusInternalServerError)
		return
	}
	counts, err := db.CommandCounts(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to count commands: %v", err), http.StatusInternalServerError)
		return
	}

	x := make([]string, 0, len(counts))
	y := make([]opts.BarData, 0, len(counts))
	for _, c := range counts {
		x = append(x, c.Action)
		y = append(y, opts.BarData{Value: c.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Engagement actions", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Commands by action", Subtitle: "run " + runID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("commands", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLatencyPlot renders a PNG histogram of receipt latency.
func (db *DB) handleLatencyPlot(w http.ResponseWriter, r *http.Request) {
	runID, err := db.runFromRequest(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to find run: %v", err), http.StatusInternalServerError)
		return
	}
	latencies, err := db.AckLatencies(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read latencies: %v", err), http.StatusInternalServerError)
		return
	}
	if len(latencies) == 0 {
		httputil.NotFound(w, "no acknowledged commands in run")
		return
	}

	p, err := LatencyHistogram(latencies)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to plot: %v", err), http.StatusInternalServerError)
		return
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Warnf("Failed to write latency plot: %v", err)
	}
}

// LatencyHistogram builds a histogram plot of latencies in milliseconds.
func LatencyHistogram(latencies []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Receipt latency"
	p.X.Label.Text = "ms"
	p.Y.Label.Text = "commands"

	bins := 20
	if len(latencies) < bins {
		bins = len(latencies)
	}
	h, err := plotter.NewHist(plotter.Values(latencies), bins)
	if err != nil {
		return nil, err
	}
	p.Add(h)
	return p, nil
}
