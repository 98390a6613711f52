package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabdya767/Stock-ATH-Alert/internal/alerting"
	"github.com/rabdya767/Stock-ATH-Alert/internal/catalog"
	"github.com/rabdya767/Stock-ATH-Alert/internal/escalation"
	"github.com/rabdya767/Stock-ATH-Alert/internal/fetcher"
	"github.com/rabdya767/Stock-ATH-Alert/internal/report"
	"github.com/rabdya767/Stock-ATH-Alert/internal/storage"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func series(prices ...float64) fetcher.Series {
	out := make(fetcher.Series, len(prices))
	for i, p := range prices {
		out[i] = fetcher.PricePoint{Date: day(i + 1), Price: decimal.NewFromFloat(p)}
	}
	return out
}

type recordingNotifier struct {
	store    *storage.MemoryStore
	messages []alerting.Message
	savesAt  []int
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, msg alerting.Message) error {
	r.messages = append(r.messages, msg)
	if r.store != nil {
		r.savesAt = append(r.savesAt, r.store.Saves())
	}
	return r.err
}

type failingStore struct {
	storage.AlertStateStore
	saveErr error
}

func (f failingStore) Save(context.Context, storage.Snapshot) error { return f.saveErr }

type memoryLog struct {
	records []storage.AlertRecord
}

func (m *memoryLog) InsertAlert(_ context.Context, rec storage.AlertRecord) (storage.AlertRecord, error) {
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memoryLog) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return m.records, nil
}

type fakeLocker struct {
	acquired bool
	released bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released = true }, true, nil
}

type fixture struct {
	svc     *Service
	store   *storage.MemoryStore
	remote  *recordingNotifier
	console *bytes.Buffer
	log     *memoryLog
}

func newFixture(t *testing.T, opts Options, static *fetcher.Static, store storage.AlertStateStore) fixture {
	t.Helper()
	engine, err := escalation.NewEngine([]float64{2, 5, 10, 20})
	require.NoError(t, err)

	mem, _ := store.(*storage.MemoryStore)
	if store == nil {
		mem = storage.NewMemoryStore(nil)
		store = mem
	}

	var out bytes.Buffer
	remote := &recordingNotifier{store: mem}
	alertLog := &memoryLog{}
	svc := New(opts, Components{
		Fetcher:  static,
		Engine:   engine,
		Store:    store,
		AlertLog: alertLog,
		Console:  alerting.NewConsoleNotifier(&out, zerolog.Nop()),
		Channels: []Channel{{Name: "email", Notifier: remote, Style: report.HTMLTable}},
	}, zerolog.Nop())
	return fixture{svc: svc, store: mem, remote: remote, console: &out, log: alertLog}
}

func TestRunContinuesPastFailedInstrument(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{
		"1": series(100, 85),
		"2": {},
		"3": series(50, 49.5),
	}}
	f := newFixture(t, Options{Subject: "ATH"}, static, nil)

	cat := catalog.New(
		catalog.Instrument{Name: "Falling", Key: "1"},
		catalog.Instrument{Name: "Empty", Key: "2"},
		catalog.Instrument{Name: "Flat", Key: "3"},
		catalog.Instrument{Name: "Unknown", Key: "404"},
	)
	rep, err := f.svc.Run(context.Background(), cat)
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	require.Len(t, rep.Outcomes, 4)
	require.Len(t, rep.Failures, 2)
	var fe *fetcher.FetchError
	assert.True(t, errors.As(rep.Failures[0].Err, &fe))
	assert.Equal(t, "Empty", rep.Failures[0].Instrument.Name)

	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, "Falling", rep.Alerts[0].Instrument)
	assert.True(t, rep.Saved)

	snap, _ := f.store.Load(context.Background())
	assert.Len(t, snap, 2, "only analysed instruments are stored")
	assert.Contains(t, snap, "Flat")
}

func TestRunSavesBeforeNotifying(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 85)}}
	f := newFixture(t, Options{Subject: "ATH"}, static, nil)

	rep, err := f.svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.NoError(t, err)

	require.Len(t, f.remote.messages, 1)
	assert.Equal(t, []int{1}, f.remote.savesAt)
	assert.Equal(t, report.HTMLTable, f.remote.messages[0].Report.Style)
	assert.Equal(t, "ATH", f.remote.messages[0].Subject)
	assert.Equal(t, []string{"console", "email"}, rep.Notified)
	assert.Contains(t, f.console.String(), "Fund")
	assert.Contains(t, f.console.String(), "Total alerts: 1")

	require.Len(t, f.log.records, 1)
	assert.Equal(t, rep.RunID, f.log.records[0].RunID)
	assert.Equal(t, "10", f.log.records[0].LevelPct.String())
}

func TestRunSecondPassIsQuiet(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 85)}}
	f := newFixture(t, Options{}, static, nil)
	cat := catalog.New(catalog.Instrument{Name: "Fund", Key: "1"})

	_, err := f.svc.Run(context.Background(), cat)
	require.NoError(t, err)
	f.console.Reset()

	rep, err := f.svc.Run(context.Background(), cat)
	require.NoError(t, err)
	assert.Empty(t, rep.Alerts)
	assert.Len(t, f.remote.messages, 1, "no second remote notification")
	assert.Equal(t, NoAlertsMessage+"\n", f.console.String())
}

func TestRunNotifyErrorAfterSave(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 85)}}
	f := newFixture(t, Options{}, static, nil)
	f.remote.err = &alerting.NotifyError{Channel: "email", Err: errors.New("smtp down")}

	rep, err := f.svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.Error(t, err)

	var ne *alerting.NotifyError
	assert.True(t, errors.As(err, &ne))
	assert.True(t, rep.Saved)
	snap, _ := f.store.Load(context.Background())
	assert.True(t, snap["Fund"].LastAlertLevel.Equal(decimal.NewFromInt(10)), "watermark survives a failed notification")
}

func TestRunSaveFailureStillNotifies(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 85)}}
	store := failingStore{AlertStateStore: storage.NewMemoryStore(nil), saveErr: errors.New("disk full")}
	f := newFixture(t, Options{}, static, store)

	rep, err := f.svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, rep.Saved)
	assert.Len(t, f.remote.messages, 1)
}

func TestRunLoadFailureIsFatal(t *testing.T) {
	f := newFixture(t, Options{}, &fetcher.Static{}, loadFailStore{})

	_, err := f.svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load alert state")
}

type loadFailStore struct{}

func (loadFailStore) Load(context.Context) (storage.Snapshot, error) {
	return nil, errors.New("corrupt")
}

func (loadFailStore) Save(context.Context, storage.Snapshot) error { return nil }

func TestRunDryRun(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 85)}}
	f := newFixture(t, Options{DryRun: true}, static, nil)

	rep, err := f.svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.NoError(t, err)

	assert.False(t, rep.Saved)
	assert.Equal(t, 0, f.store.Saves())
	assert.Empty(t, f.remote.messages)
	assert.Empty(t, f.log.records)
	assert.Equal(t, []string{"console"}, rep.Notified)
}

func TestRunEmptyCatalog(t *testing.T) {
	f := newFixture(t, Options{}, &fetcher.Static{}, nil)

	rep, err := f.svc.Run(context.Background(), catalog.Catalog{})
	require.NoError(t, err)
	assert.Empty(t, rep.Outcomes)
	assert.Equal(t, 0, f.store.Saves())
	assert.Equal(t, NoInstrumentsMessage+"\n", f.console.String())
}

func TestRunUsesTrailingWindow(t *testing.T) {
	static := &fetcher.Static{
		History:  map[string]fetcher.Series{"1": series(100, 85)},
		Trailing: map[string]fetcher.Series{"1": series(90, 85)},
	}
	f := newFixture(t, Options{TrailingYear: true}, static, nil)

	rep, err := f.svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.NoError(t, err)
	require.Len(t, rep.Alerts, 1)
	require.True(t, rep.Alerts[0].DeclineVs52wPct.Valid)
	assert.Equal(t, "5.56", rep.Alerts[0].DeclineVs52wPct.Decimal.StringFixed(2))
}

func TestRunExclusiveRespectsLock(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 85)}}
	engine, err := escalation.NewEngine([]float64{2})
	require.NoError(t, err)

	locker := &fakeLocker{}
	svc := New(Options{LockKey: 42}, Components{
		Catalog: catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}),
		Fetcher: static,
		Engine:  engine,
		Store:   storage.NewMemoryStore(nil),
		Locker:  locker,
		Console: alerting.NewConsoleNotifier(&bytes.Buffer{}, zerolog.Nop()),
	}, zerolog.Nop())

	_, err = svc.RunExclusive(context.Background())
	require.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, svc.ProcessBucket(context.Background(), time.Now()))

	locker.acquired = true
	rep, err := svc.RunExclusive(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Alerts, 1)
	assert.True(t, locker.released)
}

func TestRunLogsDeclineFromStoredATH(t *testing.T) {
	static := &fetcher.Static{History: map[string]fetcher.Series{"1": series(100, 90)}}
	engine, err := escalation.NewEngine([]float64{2, 5, 10, 20})
	require.NoError(t, err)

	store := storage.NewMemoryStore(storage.Snapshot{
		"Fund": {ATHPrice: decimal.NewFromInt(200), ATHDate: day(1), LastAlertLevel: decimal.Zero},
	})
	var logs bytes.Buffer
	svc := New(Options{}, Components{
		Fetcher: static,
		Engine:  engine,
		Store:   store,
		Console: alerting.NewConsoleNotifier(&bytes.Buffer{}, zerolog.Nop()),
	}, zerolog.New(&logs))

	rep, err := svc.Run(context.Background(), catalog.New(catalog.Instrument{Name: "Fund", Key: "1"}))
	require.NoError(t, err)
	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, "55.00", rep.Alerts[0].DeclinePct.StringFixed(2))

	var evaluated string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, `"message":"evaluated"`) {
			evaluated = line
		}
	}
	require.NotEmpty(t, evaluated)
	assert.Contains(t, evaluated, `"decline_pct":"55.00"`)
	assert.Contains(t, evaluated, `"ath":"200"`)
}

type cancellingFetcher struct {
	*fetcher.Static
	cancel context.CancelFunc
}

func (c cancellingFetcher) FetchHistory(ctx context.Context, key string) (fetcher.Series, error) {
	c.cancel()
	return c.Static.FetchHistory(ctx, key)
}

func TestRunCancelledMidBatchSavesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	static := &fetcher.Static{History: map[string]fetcher.Series{
		"1": series(100, 85),
		"2": series(100, 80),
	}}
	f := newFixture(t, Options{}, static, nil)
	f.svc.history = cancellingFetcher{Static: static, cancel: cancel}

	rep, err := f.svc.Run(ctx, catalog.New(
		catalog.Instrument{Name: "First", Key: "1"},
		catalog.Instrument{Name: "Second", Key: "2"},
	))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rep.Outcomes, 1)
	assert.False(t, rep.Saved)
	assert.Equal(t, 0, f.store.Saves())
	assert.Empty(t, f.remote.messages)
	assert.Empty(t, f.log.records)
}
