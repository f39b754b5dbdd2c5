// Command pursuit drives the rover: it reads detections from a camera (or a
// recorded fixture), decides whether to advance, turn or fire, and sends the
// resulting commands to the actuator controller over serial.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pursuit/internal/actuator"
	"github.com/banshee-data/pursuit/internal/config"
	"github.com/banshee-data/pursuit/internal/db"
	"github.com/banshee-data/pursuit/internal/engage"
	"github.com/banshee-data/pursuit/internal/monitoring"
	"github.com/banshee-data/pursuit/internal/perception"
	"github.com/banshee-data/pursuit/internal/timeutil"
	"github.com/banshee-data/pursuit/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a simulated actuator and recorded frames")
	listen      = flag.String("listen", ":8080", "Admin listen address (empty to disable)")
	port        = flag.String("port", "/dev/ttyACM0", "Actuator serial port (ignored in dev mode)")
	baud        = flag.Int("baud", actuator.DefaultBaudRate, "Actuator serial baud rate")
	configPath  = flag.String("config", "", "Tuning config JSON (defaults when empty)")
	dbPath      = flag.String("db", "pursuit.db", "Journal database path (empty to disable)")
	fixtures    = flag.String("fixtures", "", "Replay frames from this JSON-lines file instead of the camera (dev default: fixtures.jsonl)")
	camera      = flag.Int("camera", 0, "Camera device index")
	settle      = flag.Duration("settle", 0, "Override the actuator settle delay from the config")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options is the resolved command line.
type options struct {
	Dev         bool
	Listen      string
	Port        string
	Baud        int
	DBPath      string
	Fixtures    string
	Camera      int
	Tuning      *config.TuningConfig
	SettleDelay time.Duration
}

// reporterLink is what main needs from either actuator link.
type reporterLink interface {
	actuator.Link
	actuator.StatsReporter
	Close() error
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("pursuit", version.String())
		return
	}

	logOpts := monitoring.OptionsFromEnv()
	logOpts.Component = "pursuit"
	monitoring.Init(logOpts)

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			monitoring.L().Fatal().Err(err).Msg("failed to load tuning config")
		}
	}

	opts := options{
		Dev:         *devMode,
		Listen:      *listen,
		Port:        *port,
		Baud:        *baud,
		DBPath:      *dbPath,
		Fixtures:    *fixtures,
		Camera:      *camera,
		Tuning:      tuning,
		SettleDelay: tuning.GetSettleDelay(),
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "settle" {
			opts.SettleDelay = *settle
		}
	})
	if opts.Dev && opts.Fixtures == "" {
		opts.Fixtures = "fixtures.jsonl"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		monitoring.Errorf("%v", err)
		os.Exit(1)
	}
	monitoring.Logf("Graceful shutdown complete")
}

func openLink(ctx context.Context, opts options, clock timeutil.Clock) (reporterLink, error) {
	if opts.Dev {
		sim := actuator.NewSimulator(clock, opts.Tuning.GetSimStepRate())
		monitoring.Logf("using simulated actuator (%.0f units/s)", opts.Tuning.GetSimStepRate())
		link, err := actuator.NewSerialLink(sim)
		if err != nil {
			return nil, err
		}
		return link, nil
	}

	link, err := actuator.OpenSerialLink(opts.Port, actuator.PortOptions{BaudRate: opts.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open actuator: %w", err)
	}
	if err := link.Settle(ctx, clock, opts.SettleDelay); err != nil {
		link.Close()
		return nil, fmt.Errorf("failed to settle actuator: %w", err)
	}
	monitoring.Logf("opened actuator on %s at %d baud", opts.Port, opts.Baud)
	return link, nil
}

func openSource(opts options) (perception.Source, func() error, error) {
	if opts.Fixtures != "" {
		interval := opts.Tuning.GetFrameInterval()
		replay, err := perception.LoadReplay(opts.Fixtures, perception.WithFrameInterval(interval))
		if err != nil {
			return nil, nil, err
		}
		monitoring.Logf("replaying %d frames from %s every %s", replay.Len(), opts.Fixtures, interval)
		return replay, func() error { return nil }, nil
	}
	return openCamera(opts.Camera)
}

// run wires the loop and the admin server and blocks until ctx is done.
func run(ctx context.Context, opts options) error {
	clock := timeutil.RealClock{}

	source, closeSource, err := openSource(opts)
	if err != nil {
		return fmt.Errorf("failed to open perception source: %w", err)
	}
	defer closeSource()

	link, err := openLink(ctx, opts, clock)
	if err != nil {
		return err
	}
	defer link.Close()

	cfg := engage.Config{
		Policy:       opts.Tuning.Policy(),
		AckTimeout:   opts.Tuning.GetAckTimeout(),
		PollInterval: opts.Tuning.GetPollInterval(),
	}
	loopOpts := []engage.Option{engage.WithClock(clock)}

	var journal *db.DB
	if opts.DBPath != "" {
		if journal, err = db.NewDB(opts.DBPath); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()

		jr, err := journal.StartRun(clock.Now(), opts.Tuning, version.Version)
		if err != nil {
			return err
		}
		monitoring.Logf("journaling run %s to %s", jr.ID, opts.DBPath)
		loopOpts = append(loopOpts, engage.WithJournal(jr))
	}

	ctrl := engage.New(source, link, cfg, loopOpts...)

	var wg sync.WaitGroup

	if opts.Listen != "" {
		mux := http.NewServeMux()
		ctrl.AttachAdminRoutes(mux)
		actuator.AttachAdminRoutes(mux, link)
		if journal != nil {
			journal.AttachAdminRoutes(mux)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, opts.Listen, mux)
		}()
	}

	err = ctrl.Run(ctx)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Errorf("failed to start admin server: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down admin server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf("admin server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Warnf("admin server force close error: %v", err)
		}
	}
}
