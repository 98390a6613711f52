package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabdya767/Stock-ATH-Alert/internal/alerting"
	"github.com/rabdya767/Stock-ATH-Alert/internal/catalog"
	"github.com/rabdya767/Stock-ATH-Alert/internal/fetcher"
	"github.com/rabdya767/Stock-ATH-Alert/internal/report"
	"github.com/rabdya767/Stock-ATH-Alert/internal/service"
	"github.com/rabdya767/Stock-ATH-Alert/internal/storage"
)

// SimulateOptions describe a synthetic instrument.
type SimulateOptions struct {
	Name    string
	ATH     decimal.Decimal
	Current decimal.Decimal
	// Channel overrides the configured remote channel.
	Channel string
}

// SimulateAlert 通过给定的 ATH/当前价格模拟一次告警流程。
// 状态只保存在内存中，不会影响真实的状态文件。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (service.RunReport, error) {
	if !opts.ATH.IsPositive() || !opts.Current.IsPositive() {
		return service.RunReport{}, errors.New("ath 和 current 必须为正数")
	}
	if opts.Name == "" {
		opts.Name = "Simulated Instrument"
	}

	engine, err := a.newEngine()
	if err != nil {
		return service.RunReport{}, err
	}
	channels, err := a.newChannels(opts.Channel, "")
	if err != nil {
		return service.RunReport{}, err
	}
	consoleStyle, err := report.ParseStyle(a.Config.Report.ConsoleStyle)
	if err != nil {
		return service.RunReport{}, err
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	const key = "simulated"
	static := &fetcher.Static{History: map[string]fetcher.Series{
		key: {
			{Date: today.AddDate(0, 0, -30), Price: opts.ATH},
			{Date: today, Price: opts.Current},
		},
	}}

	svc := service.New(service.Options{
		Subject:      a.Config.Subject(),
		Report:       a.Config.ReportOptions(),
		ConsoleStyle: consoleStyle,
	}, service.Components{
		Catalog:  catalog.New(catalog.Instrument{Name: opts.Name, Key: key}),
		Fetcher:  static,
		Engine:   engine,
		Store:    storage.NewMemoryStore(nil),
		Console:  alerting.NewConsoleNotifier(a.Out, a.Logger),
		Channels: channels,
	}, a.Logger)

	return svc.RunExclusive(ctx)
}
