package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rabdya767/Stock-ATH-Alert/internal/alerting"
	"github.com/rabdya767/Stock-ATH-Alert/internal/config"
	"github.com/rabdya767/Stock-ATH-Alert/internal/escalation"
	"github.com/rabdya767/Stock-ATH-Alert/internal/fetcher"
	"github.com/rabdya767/Stock-ATH-Alert/internal/report"
	"github.com/rabdya767/Stock-ATH-Alert/internal/scheduler"
	"github.com/rabdya767/Stock-ATH-Alert/internal/service"
	"github.com/rabdya767/Stock-ATH-Alert/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// history overrides the configured provider.
	history fetcher.HistoryFetcher
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFetcher() fetcher.HistoryFetcher {
	if a.history != nil {
		return a.history
	}
	p := a.Config.Provider
	if p.Kind == config.ProviderStock {
		return fetcher.NewYahoo(fetcher.YahooOptions{
			BaseURL:   p.StockBaseURL,
			Timeout:   p.RequestTimeout,
			UserAgent: p.UserAgent,
		}, a.Logger)
	}
	return fetcher.NewNAV(fetcher.NAVOptions{
		BaseURL:   p.NAVBaseURL,
		Timeout:   p.RequestTimeout,
		UserAgent: p.UserAgent,
	}, a.Logger)
}

// stateStores holds the opened state backend and its optional audit log.
type stateStores struct {
	state    storage.AlertStateStore
	alertLog storage.AlertLog
	close    func()
}

func (a *App) openStore(ctx context.Context) (stateStores, error) {
	if a.Config.State.Backend != config.BackendPostgres {
		return stateStores{state: storage.NewFileStore(a.Config.State.Path), close: func() {}}, nil
	}

	db := a.Config.Database
	store, err := storage.OpenPostgres(ctx, storage.PoolOptions{
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return stateStores{}, err
	}
	return stateStores{state: store, alertLog: store, close: store.Close}, nil
}

func (a *App) newEngine() (*escalation.Engine, error) {
	engine, err := escalation.NewEngine(a.Config.Alerting.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("build escalation engine: %w", err)
	}
	return engine, nil
}

func (a *App) newChannels(channel, style string) ([]service.Channel, error) {
	if channel == "" {
		channel = a.Config.Notify.Channel
	}

	switch channel {
	case config.ChannelStdout:
		return nil, nil
	case config.ChannelEmail:
		if style == "" {
			style = a.Config.Report.Style
		}
		st, err := report.ParseStyle(style)
		if err != nil {
			return nil, err
		}
		cfg := a.Config.Email
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		notifier := alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Username:    cfg.Username,
			Password:    cfg.Password,
			From:        cfg.From,
			To:          cfg.To,
			TLS:         cfg.TLS,
			Timeout:     cfg.Timeout,
			FallbackDir: cfg.FallbackDir,
		}, a.Logger)
		return []service.Channel{{Name: config.ChannelEmail, Notifier: notifier, Style: st}}, nil
	case config.ChannelTelegram:
		if style == "" {
			style = a.Config.Telegram.Style
		}
		st, err := report.ParseStyle(style)
		if err != nil {
			return nil, err
		}
		cfg := a.Config.Telegram
		notifier := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Provider.RequestTimeout, a.Logger)
		return []service.Channel{{Name: config.ChannelTelegram, Notifier: notifier, Style: st}}, nil
	default:
		return nil, fmt.Errorf("unknown notify channel %q", channel)
	}
}

// RunOptions configure a single pipeline pass.
type RunOptions struct {
	DryRun bool
	// Style and Channel override the configured remote channel and its style.
	Style   string
	Channel string
}

func (a *App) newService(ctx context.Context, opts RunOptions, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	engine, err := a.newEngine()
	if err != nil {
		return nil, nil, err
	}

	channels, err := a.newChannels(opts.Channel, opts.Style)
	if err != nil {
		return nil, nil, err
	}

	consoleStyle, err := report.ParseStyle(a.Config.Report.ConsoleStyle)
	if err != nil {
		return nil, nil, err
	}

	stores, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc := service.New(service.Options{
		Subject:      a.Config.Subject(),
		Report:       a.Config.ReportOptions(),
		ConsoleStyle: consoleStyle,
		TrailingYear: a.Config.Provider.TrailingYear,
		DryRun:       opts.DryRun,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
	}, service.Components{
		Catalog:   a.Config.BuildCatalog(),
		Fetcher:   a.newFetcher(),
		Engine:    engine,
		Store:     stores.state,
		AlertLog:  stores.alertLog,
		Console:   alerting.NewConsoleNotifier(a.Out, a.Logger),
		Channels:  channels,
		Scheduler: sched,
	}, a.Logger)
	return svc, stores.close, nil
}

// RunOnce executes one pipeline pass over the configured catalog.
func (a *App) RunOnce(ctx context.Context, opts RunOptions) error {
	svc, closeStore, err := a.newService(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	rep, err := svc.RunExclusive(ctx)
	if errors.Is(err, service.ErrLockHeld) {
		a.Logger.Warn().Msg("another run holds the advisory lock; skipping")
		return nil
	}
	for _, f := range rep.Failures {
		a.Logger.Warn().Str("instrument", f.Instrument.Name).Err(f.Err).Msg("instrument skipped")
	}
	return err
}

// Watch executes the long-running scheduled service.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	svc, closeStore, err := a.newService(ctx, RunOptions{}, sched)
	if err != nil {
		return err
	}
	defer closeStore()

	a.Logger.Info().Msg("starting watch loop")
	err = svc.Watch(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}
