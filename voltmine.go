// Package voltmine runs cryptocurrency miners when the spot electricity
// price makes them worth running. A poller tracks the Nordic day-ahead
// price per zone, a controller turns samples into start/stop intents, and a
// supervisor owns the miner processes.
package voltmine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hallqvist/voltmine/internal/config"
	"github.com/hallqvist/voltmine/internal/controller"
	"github.com/hallqvist/voltmine/internal/history"
	chsink "github.com/hallqvist/voltmine/internal/history/clickhouse"
	pgsink "github.com/hallqvist/voltmine/internal/history/postgres"
	"github.com/hallqvist/voltmine/internal/logger"
	"github.com/hallqvist/voltmine/internal/logsink"
	"github.com/hallqvist/voltmine/internal/metrics"
	"github.com/hallqvist/voltmine/internal/miner"
	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/server"
	"github.com/hallqvist/voltmine/internal/store"
	"github.com/hallqvist/voltmine/internal/supervisor"
)

// Re-export the types embedders need.

type Config = config.Config

type MinerConfig = miner.Config

type Zone = pricefeed.Zone

type Sample = pricefeed.Sample

type Mode = controller.Mode

type SlotView = controller.SlotView

const (
	ModeAutomatic = controller.ModeAutomatic
	ModeManualOn  = controller.ModeManualOn
	ModeManualOff = controller.ModeManualOff
)

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Daemon is the assembled system: poller, controller, supervisor, optional
// store/history/metrics and the HTTP API.
type Daemon struct {
	cfg       *config.Config
	st        *store.SQLite
	recorder  *history.Recorder
	fanout    *logsink.Fanout
	sv        *supervisor.Supervisor
	ctl       *controller.Controller
	cache     *pricefeed.Cache
	poller    *pricefeed.Poller
	httpSrv   *http.Server
	logCloser io.Closer
}

// NewDaemon wires a daemon from cfg. Nothing runs until Run is called.
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{cfg: cfg}
	d.logCloser = logger.Setup(cfg.LoggerConfig())
	for _, msg := range cfg.Rejected {
		slog.Warn("miner config rejected", "reason", msg)
	}
	if len(cfg.Miners) == 0 {
		return nil, fmt.Errorf("no valid miners configured")
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(context.Background()); err != nil {
			_ = st.Close()
			return nil, err
		}
		d.st = st
	}

	var sinks []history.Sink
	if dsn := cfg.History.PostgresDSN; dsn != "" {
		s, err := pgsink.New(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if addr := cfg.History.ClickHouseAddr; addr != "" {
		s, err := chsink.New(addr, cfg.History.ClickHouseTable)
		if err != nil {
			return nil, fmt.Errorf("clickhouse history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	d.recorder = history.NewRecorder(sinks...)

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, err
		}
	}

	outSinks := []logsink.Sink{&logsink.SlogSink{}}
	if dir := cfg.Log.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
		outSinks = append(outSinks, logsink.NewFileSink(dir, cfg.LoggerConfig()))
	}
	d.fanout = logsink.NewFanout(0, outSinks...)

	d.cache = pricefeed.NewCache()
	d.poller = pricefeed.NewPoller(pricefeed.NewClient(), d.cache, cfg.PollerConfig())
	d.ctl = controller.New(d.cache, cfg.ControllerConfig())

	d.sv = supervisor.New(d.fanout, d.onTransition, cfg.Polling.StopGrace)
	for _, m := range cfg.Miners {
		slot, err := d.sv.Register(m)
		if err != nil {
			return nil, err
		}
		if err := d.ctl.Attach(slot); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Daemon) onTransition(t supervisor.Transition) {
	d.ctl.OnTransition(t)
	if d.st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.st.RecordTransition(ctx, t); err != nil {
			slog.Warn("store transition", "slot", t.Slot, "error", err)
		}
		cancel()
	}
	d.recorder.Record(t)
}

// Run starts polling, automation and the HTTP API, then blocks until ctx is
// cancelled. On cancellation every running miner is stopped and the call
// waits (bounded) for confirmed termination.
func (d *Daemon) Run(ctx context.Context) error {
	updates := d.poller.Subscribe(0)
	go d.ctl.Run(ctx, updates)

	if d.st != nil {
		samples := d.poller.Subscribe(0)
		go d.recordPrices(ctx, samples)
	}

	zones := d.cfg.Zones()
	d.poller.Start(ctx, zones)
	slog.Info("price polling started", "zones", zones, "interval", d.cfg.Polling.Interval)

	d.httpSrv = server.NewServer(d.cfg.Server.Listen, server.Options{
		Controller: d.ctl,
		Cache:      d.cache,
		Store:      storeOrNil(d.st),
		Metrics:    d.cfg.Metrics.Enabled,
	})
	slog.Info("api listening", "addr", d.cfg.Server.Listen)

	<-ctx.Done()
	slog.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = d.httpSrv.Shutdown(shutCtx)
	cancel()

	d.poller.Stop()
	d.sv.Shutdown(30 * time.Second)
	_ = d.fanout.Close()
	_ = d.recorder.Close()
	if d.st != nil {
		_ = d.st.Close()
	}
	if d.logCloser != nil {
		_ = d.logCloser.Close()
	}
	return nil
}

// storeOrNil avoids handing the server a non-nil interface wrapping a nil
// pointer.
func storeOrNil(s *store.SQLite) store.Store {
	if s == nil {
		return nil
	}
	return s
}

func (d *Daemon) recordPrices(ctx context.Context, samples <-chan pricefeed.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := d.st.RecordPrice(rctx, s); err != nil {
				slog.Warn("store price", "zone", s.Zone, "error", err)
			}
			cancel()
		}
	}
}

// Views returns the current per-slot status.
func (d *Daemon) Views() []SlotView { return d.ctl.Views() }

// SetMode applies an operator override to one slot.
func (d *Daemon) SetMode(name string, m Mode) error { return d.ctl.SetMode(name, m) }

// Prices returns the cached price per zone.
func (d *Daemon) Prices() map[Zone]Sample { return d.cache.Snapshot() }
