// Package app wires the dispatcher together: config, logging, storage,
// transport, orchestrator, the rollover job, and the HTTP control surface.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alertbot/internal/alert"
	"alertbot/internal/config"
	"alertbot/internal/eventbus"
	"alertbot/internal/httpapi"
	"alertbot/internal/orchestrator"
	"alertbot/internal/scheduler"
	"alertbot/internal/storage"
	"alertbot/internal/transport"
	"alertbot/internal/transport/telegram"
	"alertbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store storage.Store
	bus   eventbus.Bus
	orch  *orchestrator.Manager
	srv   *httpapi.Server
	cron  *cron.Cron

	subCh chan *config.Config
	wg    sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")
	cfgMgr := config.NewManager(cfgPath, boot)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &App{
		cfgMgr: cfgMgr,
		logSvc: logSvc,
		log:    log,
		store:  store,
		bus:    eventbus.New(),
	}, nil
}

// Start builds the orchestrator under the process-lifetime ctx and brings
// up the control surface. It does not power any instance on: that is an
// operator action through the control surface.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	orchCfg, err := dispatchConfig(cfg.Dispatch)
	if err != nil {
		return err
	}

	factory, err := buildFactory(cfg.Transport, a.log)
	if err != nil {
		return err
	}

	formatter := alert.NewFormatter(alert.NewLinkBuilder(a.log))
	a.orch = orchestrator.NewManager(ctx, orchCfg, orchestrator.Deps{
		Store:   a.store,
		Factory: factory,
		Format:  scheduler.FormatFunc(formatter.Format),
		Bus:     a.bus,
		Log:     a.log,
	})

	// Midnight rollover for the sent-today counters, in the configured zone.
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Dispatch.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("dispatch.timezone: %w", err)
		}
		loc = l
	}
	a.cron = cron.New(cron.WithLocation(loc))
	if _, err := a.cron.AddFunc("0 0 * * *", a.orch.ResetDailyCounters); err != nil {
		return err
	}
	a.cron.Start()

	readTO, _ := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	writeTO, _ := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	addr := cfg.Server.Addr
	if addr == "" {
		addr = config.DefaultServerAddr
	}
	a.srv = httpapi.New(httpapi.Config{
		Addr:         addr,
		Token:        cfg.Server.Token,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
	}, a.orch, a.bus, a.log)
	if err := a.srv.Start(ctx); err != nil {
		return err
	}

	// Hot reload: logging and dispatch settings apply live; transport,
	// storage and server changes need a restart (logged, not applied).
	a.subCh = a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.applyLoop(ctx)
	}()

	a.log.Info("alertbot started", logx.String("addr", a.srv.Addr()))
	return nil
}

func (a *App) applyLoop(ctx context.Context) {
	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.subCh:
			if !ok {
				return
			}
			changed := config.RedactedSummary(prev, cfg)
			a.log.Info("applying config change", logx.Any("sections", changed))

			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig(cfg.Logging.File),
			})
			if orchCfg, err := dispatchConfig(cfg.Dispatch); err == nil {
				a.orch.Apply(orchCfg)
			} else {
				a.log.Warn("dispatch config rejected", logx.Err(err))
			}
			for _, section := range changed {
				switch section {
				case "transport", "storage", "server":
					a.log.Warn("config section needs a restart to apply", logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

// Stop quiesces in dependency order: control surface, instances, rollover
// job, then the shared store.
func (a *App) Stop(ctx context.Context) error {
	if a.srv != nil {
		a.srv.Stop(ctx)
	}
	if a.orch != nil {
		for _, res := range a.orch.PowerOff(ctx) {
			if res.Err != nil {
				a.log.Warn("teardown failed during shutdown", logx.String("instance", res.ID), logx.Err(res.Err))
			}
		}
	}
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
	return nil
}

func dispatchConfig(d config.DispatchConfig) (orchestrator.Config, error) {
	interval, err := d.ScanIntervalOr()
	if err != nil {
		return orchestrator.Config{}, err
	}
	pause, err := d.MessagePauseOr()
	if err != nil {
		return orchestrator.Config{}, err
	}
	readyTO, err := d.ReadyTimeoutOr()
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		SessionRoot:  d.SessionRootOr(),
		ReadyTimeout: readyTO,
		ScanInterval: interval,
		MessagePause: pause,
	}, nil
}

func buildFactory(tc config.TransportConfig, log logx.Logger) (transport.Factory, error) {
	switch strings.ToLower(strings.TrimSpace(tc.Driver)) {
	case "", "telegram":
		instances := make(map[string]telegram.InstanceConfig, len(tc.Instances))
		for id, ic := range tc.Instances {
			groups := make([]telegram.Group, 0, len(ic.Groups))
			for _, g := range ic.Groups {
				groups = append(groups, telegram.Group{Name: g.Name, ChatID: g.ChatID, Members: g.Members})
			}
			instances[id] = telegram.InstanceConfig{Token: ic.Token, Groups: groups}
		}
		return telegram.NewFactory(instances, log), nil
	default:
		return nil, fmt.Errorf("transport.driver: unknown driver %q", tc.Driver)
	}
}
