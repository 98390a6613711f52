package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabdya767/Stock-ATH-Alert/internal/storage"
)

// ShowOptions select what Show prints.
type ShowOptions struct {
	// Alerts lists the audit log instead of the current watermarks.
	Alerts bool
	Limit  int
}

// Show prints the persisted alert state, or recent audited alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	stores, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer stores.close()

	if opts.Alerts {
		if stores.alertLog == nil {
			return errors.New("alert log requires the postgres state backend")
		}
		return a.showAlerts(ctx, stores.alertLog, opts.Limit)
	}

	snap, err := stores.state.Load(ctx)
	if err != nil {
		return err
	}
	if len(snap) == 0 {
		fmt.Fprintln(a.Out, "no alert state recorded")
		return nil
	}

	cat := a.Config.BuildCatalog()
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Instrument\tATH\tATH Date\tLast Alert%\tIn Catalog")
	for _, name := range snap.Names() {
		st := snap[name]
		athDate := "-"
		if !st.ATHDate.IsZero() {
			athDate = st.ATHDate.Format("2006-01-02")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\n",
			sanitizeInline(name),
			formatDecimal(st.ATHPrice, 4),
			athDate,
			formatDecimal(st.LastAlertLevel, 2),
			cat.Contains(name),
		)
	}
	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, log storage.AlertLog, limit int) error {
	records, err := log.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tInstrument\tLevel%\tDecline%\tATH\tCurrent\tRun")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			sanitizeInline(rec.Instrument),
			formatDecimal(rec.LevelPct, 2),
			formatDecimal(rec.DeclinePct, 2),
			formatDecimal(rec.ATHPrice, 4),
			formatDecimal(rec.CurrentPrice, 4),
			rec.RunID,
		)
	}
	return writer.Flush()
}

// PruneOptions configure Prune.
type PruneOptions struct {
	DryRun bool
}

// Prune drops alert state for instruments no longer in the catalog and
// returns the removed names.
func (a *App) Prune(ctx context.Context, opts PruneOptions) ([]string, error) {
	stores, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer stores.close()

	snap, err := stores.state.Load(ctx)
	if err != nil {
		return nil, err
	}

	cat := a.Config.BuildCatalog()
	var removed []string
	for _, name := range snap.Names() {
		if cat.Contains(name) {
			continue
		}
		removed = append(removed, name)
		delete(snap, name)
	}

	for _, name := range removed {
		fmt.Fprintf(a.Out, "prune %s\n", name)
	}
	if len(removed) == 0 {
		fmt.Fprintln(a.Out, "nothing to prune")
		return nil, nil
	}
	if opts.DryRun {
		a.Logger.Info().Int("stale", len(removed)).Msg("dry run; state left untouched")
		return removed, nil
	}

	if err := stores.state.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save pruned state: %w", err)
	}
	a.Logger.Info().Int("removed", len(removed)).Msg("pruned alert state")
	return removed, nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
