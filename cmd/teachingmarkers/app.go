package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/teachingmarkers/internal/api"
	"github.com/OCAP2/teachingmarkers/internal/broadcast"
	"github.com/OCAP2/teachingmarkers/internal/catalog"
	"github.com/OCAP2/teachingmarkers/internal/clock"
	"github.com/OCAP2/teachingmarkers/internal/config"
	"github.com/OCAP2/teachingmarkers/internal/convert"
	"github.com/OCAP2/teachingmarkers/internal/database"
	"github.com/OCAP2/teachingmarkers/internal/imarker"
	"github.com/OCAP2/teachingmarkers/internal/influx"
	"github.com/OCAP2/teachingmarkers/internal/logging"
	"github.com/OCAP2/teachingmarkers/internal/monitor"
	"github.com/OCAP2/teachingmarkers/internal/orchestrator"
	"github.com/OCAP2/teachingmarkers/internal/registry"
	"github.com/OCAP2/teachingmarkers/internal/relay"
	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/internal/transport/latched"
	redistransport "github.com/OCAP2/teachingmarkers/internal/transport/redis"
	wstransport "github.com/OCAP2/teachingmarkers/internal/transport/websocket"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// markerBackend is what the orchestrator registers markers with and where
// feedback comes from.
type markerBackend interface {
	orchestrator.MarkerServer
	orchestrator.VisualServer
	api.FeedbackDispatcher
	Events() <-chan core.FeedbackEvent
	Close() error
}

type app struct {
	start  time.Time
	nodeID string
	level  string

	logs    *logging.SlogManager
	logger  *slog.Logger
	logFile *os.File
	gelf    *logging.GELFSink

	db      *database.Manager
	catalog *catalog.Catalog
	influx  *influx.Manager

	bus     transport.Bus
	markers markerBackend

	registry    *registry.Registry
	relay       *relay.Relay
	broadcaster *broadcast.Broadcaster
	orch        *orchestrator.Orchestrator
	monitor     *monitor.Service
	api         *api.Server
}

func newApp(start time.Time) (*app, error) {
	a := &app{
		start:  start,
		nodeID: viper.GetString("nodeId"),
		level:  viper.GetString("logLevel"),
	}
	if err := a.setupLogging(); err != nil {
		return nil, err
	}
	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) setupLogging() error {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := logging.LogFilePath(logsDir, a.nodeID, a.start)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	a.logFile = f

	var extra []slog.Handler
	if viper.GetBool("graylog.enabled") {
		sink, err := logging.NewGELFSink(viper.GetString("graylog.address"), a.nodeID, a.level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Graylog disabled: %v\n", err)
		} else {
			a.gelf = sink
			extra = append(extra, sink.Handler())
		}
	}

	a.logs = logging.NewSlogManager()
	a.logs.Setup(io.MultiWriter(os.Stdout, f), a.level, extra...)
	a.logger = a.logs.Logger()
	a.logger.Info("Logging to file", "path", path)
	return nil
}

func (a *app) zerolog(component string) zerolog.Logger {
	return logging.NewZerolog(a.level, component, os.Stdout, a.logFile)
}

func (a *app) componentLogger(component string) *logging.ComponentLogger {
	return logging.NewComponentLogger(a.zerolog(component))
}

func (a *app) build() error {
	ctx := context.Background()

	if err := a.openCatalog(); err != nil {
		return err
	}

	frames, err := a.seedFrames(ctx)
	if err != nil {
		return err
	}
	a.registry = registry.New(frames...)
	a.logger.Info("Frame registry seeded", "frames", a.registry.Len())

	if err := a.openTransport(); err != nil {
		return err
	}

	bc := config.GetBroadcastConfig()
	durability, err := transport.ParseDurability(bc.Durability)
	if err != nil {
		return err
	}
	// live feedback and the static broadcast share the same topic
	pub, err := a.bus.Publisher(bc.Topic, durability)
	if err != nil {
		return err
	}

	rc := config.GetRelayConfig()
	policy, err := relay.ParsePolicy(rc.Policy)
	if err != nil {
		return err
	}
	a.relay, err = relay.New(pub, a.componentLogger("relay"), relay.Config{Capacity: rc.Capacity, Policy: policy})
	if err != nil {
		return err
	}

	// the relay queue depth is attached to every subsequent record
	a.logger = slog.New(logging.NewContextHandler(a.logger.Handler(), func() []slog.Attr {
		return []slog.Attr{slog.Int("relayQueue", a.relay.Len())}
	}))

	a.broadcaster, err = broadcast.New(a.registry, pub, clock.System{}, a.componentLogger("broadcast"), bc.Interval)
	if err != nil {
		return err
	}

	a.orch = orchestrator.New(
		a.registry,
		a.relay,
		convert.NewConverter(clock.System{}),
		a.markers,
		a.markers,
		a.componentLogger("orchestrator"),
	)

	a.setupMonitor()

	if ac := config.GetAPIConfig(); ac.Enabled {
		a.api = api.NewServer(ac.Listen, api.NewRouter(api.Dependencies{
			Frames:     a.registry,
			Markers:    a.orch,
			Feedback:   a.markers,
			RelayStats: a.relay.Stats,
		}))
	}
	return nil
}

func (a *app) openCatalog() error {
	cc := config.GetCatalogConfig()
	if cc.Type == "" || cc.Type == "none" {
		return nil
	}
	a.db = database.NewManager(a.zerolog("database"))
	if err := a.db.Connect(cc.Type, cc.SQLite.Path); err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	a.catalog = catalog.New(a.db.DB, a.zerolog("catalog"))
	if err := a.catalog.Migrate(); err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	a.logger.Info("Catalog opened", "type", cc.Type, "sqlite", a.db.UsingSQLite)
	return nil
}

// seedFrames loads configured frames, then the catalog's stored frames on
// top so the last saved state wins.
func (a *app) seedFrames(ctx context.Context) ([]core.FrameEntry, error) {
	configured, err := config.GetFrames()
	if err != nil {
		return nil, err
	}
	frames, err := frameEntries(configured, config.GetGeoOrigin())
	if err != nil {
		return nil, err
	}
	if a.catalog != nil {
		stored, err := a.catalog.LoadFrames(ctx)
		if err != nil {
			return nil, err
		}
		frames = append(frames, stored...)
	}
	return frames, nil
}

func (a *app) openTransport() error {
	tc := config.GetTransportConfig()
	switch tc.Type {
	case "", "latched":
		a.bus = latched.New()
		a.markers = imarker.New()
	case "redis":
		client, err := redistransport.Connect(tc.Redis.Addr)
		if err != nil {
			return err
		}
		a.bus = redistransport.New(client, tc.Redis.Prefix)
		a.markers = imarker.New()
	case "websocket":
		bridge := wstransport.New(wstransport.Config{
			URL:    tc.Websocket.URL,
			Secret: tc.Websocket.Secret,
		}, a.logger.With("component", "bridge"))
		if err := bridge.Init(); err != nil {
			return fmt.Errorf("connecting bridge: %w", err)
		}
		a.bus = bridge
		a.markers = bridge
	default:
		return fmt.Errorf("unknown transport type %q", tc.Type)
	}
	a.logger.Info("Transport ready", "type", tc.Type)
	return nil
}

func (a *app) setupMonitor() {
	deps := monitor.Dependencies{
		Relay:      a.relay.Stats,
		Broadcast:  a.broadcaster.Stats,
		Markers:    func() int { return len(a.orch.Markers()) },
		Logger:     a.logger,
		NodeID:     a.nodeID,
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.json"),
		Interval:   config.GetMonitorConfig().Interval,
	}

	if viper.GetBool("influx.enabled") {
		backup := filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("influx_backup_%s.log.gz", a.start.Format("20060102_150405")))
		a.influx = influx.NewManager(a.zerolog("influx"), backup)
		if err := a.influx.Connect(); err != nil {
			a.logger.Error("Failed to connect to InfluxDB", "error", err)
			a.influx = nil
		} else {
			deps.Sink = a.influx
		}
	}

	a.monitor = monitor.NewService(deps)
}

// insertMarkers registers configured markers plus any the catalog stored
// from earlier runs. Failures are logged and skipped.
func (a *app) insertMarkers(ctx context.Context) error {
	configured, err := config.GetMarkers()
	if err != nil {
		return err
	}
	specs, err := markerSpecs(configured)
	if err != nil {
		return err
	}
	if a.catalog != nil {
		stored, err := a.catalog.LoadMarkers(ctx)
		if err != nil {
			return err
		}
		specs = mergeMarkers(specs, stored)
	}

	for _, spec := range specs {
		if err := a.orch.Insert(ctx, spec); err != nil {
			a.logger.Error("Failed to insert marker", "marker", spec.Name, "error", err)
			continue
		}
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.orch.Run(ctx, a.markers.Events()) })
	g.Go(func() error { return a.broadcaster.Run(ctx) })

	if err := a.insertMarkers(ctx); err != nil {
		a.logger.Error("Failed to load markers", "error", err)
	}

	if err := a.monitor.Start(); err != nil {
		return err
	}
	defer a.monitor.Stop()

	if a.api != nil {
		g.Go(a.api.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.api.Shutdown(shutdownCtx)
		})
		a.logger.Info("Admin API listening", "listen", config.GetAPIConfig().Listen)
	}

	a.logger.Info("Teaching markers server running", "node", a.nodeID)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// shutdown drains the relay, persists the registry and releases everything.
func (a *app) shutdown() error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	if a.catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.catalog.SaveFrames(ctx, a.registry.List()))
		for _, m := range a.orch.Markers() {
			errs = append(errs, a.catalog.SaveMarker(ctx, m.Spec))
		}
		cancel()
	}
	a.close()
	return errors.Join(errs...)
}

func (a *app) close() {
	if a.markers != nil {
		_ = a.markers.Close()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.influx != nil {
		_ = a.influx.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.gelf != nil {
		_ = a.gelf.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
