package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rabdya767/Stock-ATH-Alert/internal/alerting"
	"github.com/rabdya767/Stock-ATH-Alert/internal/analysis"
	"github.com/rabdya767/Stock-ATH-Alert/internal/catalog"
	"github.com/rabdya767/Stock-ATH-Alert/internal/escalation"
	"github.com/rabdya767/Stock-ATH-Alert/internal/fetcher"
	"github.com/rabdya767/Stock-ATH-Alert/internal/report"
	"github.com/rabdya767/Stock-ATH-Alert/internal/scheduler"
	"github.com/rabdya767/Stock-ATH-Alert/internal/storage"
)

// Console status lines.
const (
	NoInstrumentsMessage = "No instruments configured."
	NoAlertsMessage      = "No alerts triggered."
)

// ErrLockHeld is returned when another process holds the run lock.
var ErrLockHeld = errors.New("advisory lock held by another run")

// Channel is a remote notifier with its rendering style.
type Channel struct {
	Name     string
	Notifier alerting.Notifier
	Style    report.Style
}

// Options tune a pipeline run.
type Options struct {
	Subject      string
	Report       report.Options
	ConsoleStyle report.Style
	// TrailingYear enables the 52-week window when the fetcher supports it.
	TrailingYear bool
	// DryRun prints to the console only and skips saving and auditing.
	DryRun  bool
	LockKey int64
}

// Components are the collaborators of a Service. AlertLog, Locker,
// Scheduler and Channels are optional.
type Components struct {
	Catalog   catalog.Catalog
	Fetcher   fetcher.HistoryFetcher
	Engine    *escalation.Engine
	Store     storage.AlertStateStore
	AlertLog  storage.AlertLog
	Locker    storage.AdvisoryLocker
	Console   *alerting.ConsoleNotifier
	Channels  []Channel
	Scheduler *scheduler.Scheduler
}

// Outcome is the per-instrument result of a run.
type Outcome struct {
	Instrument catalog.Instrument
	Result     analysis.Result
	Alert      *escalation.Alert
	Err        error
}

// RunReport summarises one pipeline pass.
type RunReport struct {
	RunID    string
	Started  time.Time
	Outcomes []Outcome
	Alerts   []escalation.Alert
	Failures []Outcome
	Saved    bool
	Notified []string
}

// Service orchestrates fetching, escalation, persistence, and notification.
type Service struct {
	opts      Options
	catalog   catalog.Catalog
	history   fetcher.HistoryFetcher
	trailing  fetcher.TrailingFetcher
	engine    *escalation.Engine
	store     storage.AlertStateStore
	alertLog  storage.AlertLog
	locker    storage.AdvisoryLocker
	console   *alerting.ConsoleNotifier
	channels  []Channel
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs the pipeline service.
func New(opts Options, c Components, logger zerolog.Logger) *Service {
	if opts.ConsoleStyle == "" {
		opts.ConsoleStyle = report.PlainTable
	}

	var trailing fetcher.TrailingFetcher
	if t, ok := c.Fetcher.(fetcher.TrailingFetcher); ok && opts.TrailingYear {
		trailing = t
	}

	locker := c.Locker
	if locker == nil {
		if l, ok := c.Store.(storage.AdvisoryLocker); ok {
			locker = l
		}
	}

	console := c.Console
	if console == nil {
		console = alerting.NewConsoleNotifier(nil, logger)
	}

	return &Service{
		opts:      opts,
		catalog:   c.Catalog,
		history:   c.Fetcher,
		trailing:  trailing,
		engine:    c.Engine,
		store:     c.Store,
		alertLog:  c.AlertLog,
		locker:    locker,
		console:   console,
		channels:  c.Channels,
		scheduler: c.Scheduler,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// Watch begins the scheduled run loop.
func (s *Service) Watch(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单次调度运行。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	rep, err := s.RunExclusive(ctx)
	if errors.Is(err, ErrLockHeld) {
		s.logger.Debug().Time("bucket", bucket).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	s.logger.Info().Time("bucket", bucket).
		Str("run_id", rep.RunID).
		Int("alerts", len(rep.Alerts)).
		Int("failures", len(rep.Failures)).
		Msg("scheduled run finished")
	return err
}

// RunExclusive runs the configured catalog while holding the advisory lock.
func (s *Service) RunExclusive(ctx context.Context) (RunReport, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return RunReport{}, err
	}
	if !proceed {
		return RunReport{}, ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}
	return s.Run(ctx, s.catalog)
}

// Run processes every instrument sequentially, saves the state snapshot once
// and then notifies. Per-instrument failures are recorded in the report and
// do not fail the run; state load, save and notification failures do.
func (s *Service) Run(ctx context.Context, cat catalog.Catalog) (RunReport, error) {
	rep := RunReport{RunID: uuid.NewString(), Started: s.now().UTC()}
	logger := s.logger.With().Str("run_id", rep.RunID).Logger()

	if cat.Len() == 0 {
		logger.Warn().Msg("catalog is empty")
		return rep, s.console.Println(NoInstrumentsMessage)
	}

	snap, err := s.store.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("load alert state: %w", err)
	}
	if snap == nil {
		snap = storage.Snapshot{}
	}

	for _, inst := range cat.Instruments() {
		// A cancelled run saves nothing: a raised watermark must not be
		// persisted without its notification.
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		out := s.processInstrument(ctx, logger, inst, snap)
		rep.Outcomes = append(rep.Outcomes, out)
		if out.Err != nil {
			rep.Failures = append(rep.Failures, out)
			continue
		}
		if out.Alert != nil {
			rep.Alerts = append(rep.Alerts, *out.Alert)
		}
	}

	var errs []error
	if !s.opts.DryRun {
		if err := s.store.Save(ctx, snap); err != nil {
			logger.Error().Err(err).Msg("failed to save alert state")
			errs = append(errs, fmt.Errorf("save alert state: %w", err))
		} else {
			rep.Saved = true
		}
		s.recordAlerts(ctx, logger, rep)
	}

	logger.Info().
		Int("instruments", cat.Len()).
		Int("alerts", len(rep.Alerts)).
		Int("failures", len(rep.Failures)).
		Bool("saved", rep.Saved).
		Msg("run evaluated")

	if len(rep.Alerts) == 0 {
		if err := s.console.Println(NoAlertsMessage); err != nil {
			errs = append(errs, err)
		}
		return rep, errors.Join(errs...)
	}

	notified, notifyErrs := s.dispatch(ctx, logger, rep.Alerts)
	rep.Notified = notified
	errs = append(errs, notifyErrs...)
	return rep, errors.Join(errs...)
}

func (s *Service) processInstrument(ctx context.Context, logger zerolog.Logger, inst catalog.Instrument, snap storage.Snapshot) Outcome {
	out := Outcome{Instrument: inst}
	log := logger.With().Str("instrument", inst.Name).Str("key", inst.Key).Logger()
	log.Info().Msg("fetching")

	series, err := s.history.FetchHistory(ctx, inst.Key)
	if err != nil {
		log.Error().Err(err).Msg("fetch failed")
		out.Err = err
		return out
	}

	var window fetcher.Series
	if s.trailing != nil {
		window, err = s.trailing.FetchTrailingYear(ctx, inst.Key)
		if err != nil {
			log.Warn().Err(err).Msg("trailing year unavailable")
			window = nil
		}
	}

	res, err := analysis.Analyze(series, window)
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
		out.Err = fmt.Errorf("analyze %s: %w", inst.Name, err)
		return out
	}
	out.Result = res

	prev, found := snap[inst.Name]
	state, alert := s.engine.Evaluate(inst, res, prev, found)
	snap[inst.Name] = state
	out.Alert = alert

	ev := log.Debug()
	if alert != nil {
		ev = log.Info().Str("level", alert.LevelLabel())
	}
	ev.Str("ath", state.ATHPrice.String()).
		Str("current", res.CurrentPrice.String()).
		Str("decline_pct", analysis.DeclinePct(state.ATHPrice, res.CurrentPrice).StringFixed(2)).
		Msg("evaluated")
	return out
}

func (s *Service) recordAlerts(ctx context.Context, logger zerolog.Logger, rep RunReport) {
	if s.alertLog == nil {
		return
	}
	for _, a := range rep.Alerts {
		record := storage.AlertRecord{
			RunID:        rep.RunID,
			Instrument:   a.Instrument,
			LevelPct:     a.Level,
			DeclinePct:   a.DeclinePct,
			ATHPrice:     a.ATHPrice,
			CurrentPrice: a.CurrentPrice,
		}
		if _, err := s.alertLog.InsertAlert(ctx, record); err != nil {
			logger.Error().Err(err).Str("instrument", a.Instrument).Msg("failed to persist alert record")
		}
	}
}

// dispatch renders and delivers the alerts; the console always goes first.
func (s *Service) dispatch(ctx context.Context, logger zerolog.Logger, alerts []escalation.Alert) ([]string, []error) {
	var (
		notified []string
		errs     []error
	)

	deliver := func(name string, n alerting.Notifier, style report.Style) {
		rendered, err := report.Format(alerts, style, s.opts.Report)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s report: %w", name, err))
			return
		}
		if err := n.Notify(ctx, alerting.Message{Subject: s.opts.Subject, Report: rendered}); err != nil {
			logger.Error().Err(err).Str("channel", name).Msg("failed to dispatch alert")
			errs = append(errs, err)
			return
		}
		notified = append(notified, name)
	}

	deliver("console", s.console, s.opts.ConsoleStyle)
	if s.opts.DryRun {
		return notified, errs
	}
	for _, ch := range s.channels {
		deliver(ch.Name, ch.Notifier, ch.Style)
	}
	return notified, errs
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
