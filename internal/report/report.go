// Package report renders triggered alerts as plain text or HTML.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabdya767/Stock-ATH-Alert/internal/escalation"
)

// Style selects the rendering variant.
type Style string

const (
	PlainTable Style = "plain-table"
	PlainList  Style = "plain-list"
	HTMLTable  Style = "html-table"
)

// NA marks a value that could not be computed.
const NA = "N/A"

const (
	DefaultStaleAfterDays = 365
	dateLayout            = "2006-01-02"
)

// ErrUnknownStyle is returned for unsupported styles.
var ErrUnknownStyle = errors.New("unknown report style")

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case PlainTable, PlainList, HTMLTable:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStyle, s)
	}
}

// ContentType returns the MIME type of a rendered body.
func (s Style) ContentType() string {
	if s == HTMLTable {
		return "text/html"
	}
	return "text/plain"
}

// Extension returns the file extension used when saving a rendered body.
func (s Style) Extension() string {
	if s == HTMLTable {
		return "html"
	}
	return "txt"
}

// Options tune the rendering.
type Options struct {
	// StaleAfterDays highlights rows whose ATH is older than this; <= 0 uses the default.
	StaleAfterDays int
	// Currency is prefixed to every price.
	Currency string
	Title    string
}

// Rendered is a formatted report ready for a notifier.
type Rendered struct {
	Style       Style
	ContentType string
	Body        string
	Count       int
}

// Format sorts alerts by decline and renders them in style.
func Format(alerts []escalation.Alert, style Style, opts Options) (Rendered, error) {
	if opts.StaleAfterDays <= 0 {
		opts.StaleAfterDays = DefaultStaleAfterDays
	}
	sorted := Sort(alerts)

	var (
		body string
		err  error
	)
	switch style {
	case PlainTable:
		body = renderTable(sorted, opts)
	case PlainList:
		body = renderList(sorted, opts)
	case HTMLTable:
		body, err = renderHTML(sorted, opts)
	default:
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownStyle, style)
	}
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{
		Style:       style,
		ContentType: style.ContentType(),
		Body:        body,
		Count:       len(sorted),
	}, nil
}

// Sort returns a copy ordered by decline descending, then name ascending.
func Sort(alerts []escalation.Alert) []escalation.Alert {
	out := append([]escalation.Alert(nil), alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].DeclinePct.Cmp(out[j].DeclinePct); c != 0 {
			return c > 0
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

var tableHeader = []string{"Instrument", "ATH", "ATH Date", "Current", "Date", "Decline %", "52W vs Cur %", "Level"}

func renderTable(alerts []escalation.Alert, opts Options) string {
	rows := make([][]string, 0, len(alerts)+1)
	rows = append(rows, tableHeader)
	for _, a := range alerts {
		rows = append(rows, []string{
			a.Instrument,
			price(opts.Currency, a.ATHPrice),
			date(a.ATHDate),
			price(opts.Currency, a.CurrentPrice),
			date(a.CurrentDate),
			a.DeclinePct.StringFixed(2),
			nullPct(a.DeclineVs52wPct),
			a.LevelLabel(),
		})
	}

	widths := make([]int, len(tableHeader))
	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	if opts.Title != "" {
		b.WriteString(opts.Title)
		b.WriteString("\n\n")
	}
	writeRow(&b, rows[0], widths)
	total := 0
	for _, w := range widths {
		total += w
	}
	b.WriteString(strings.Repeat("-", total+3*(len(widths)-1)))
	b.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(&b, row, widths)
	}
	fmt.Fprintf(&b, "\nTotal alerts: %d\n", len(alerts))
	return b.String()
}

func writeRow(b *strings.Builder, row []string, widths []int) {
	for i, cell := range row {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(cell)
		if i < len(row)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-len([]rune(cell))))
		}
	}
	b.WriteString("\n")
}

func renderList(alerts []escalation.Alert, opts Options) string {
	var b strings.Builder
	if opts.Title != "" {
		b.WriteString(opts.Title)
		b.WriteString("\n\n")
	}
	for i, a := range alerts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: Down %s%% from ATH\n", a.Instrument, a.DeclinePct.StringFixed(2))
		fmt.Fprintf(&b, "ATH: %s (%s), Current: %s (%s)\n",
			price(opts.Currency, a.ATHPrice), date(a.ATHDate),
			price(opts.Currency, a.CurrentPrice), date(a.CurrentDate))
		if a.DeclineVs52wPct.Valid {
			fmt.Fprintf(&b, "52W vs Cur: %s%%\n", a.DeclineVs52wPct.Decimal.StringFixed(2))
		} else {
			fmt.Fprintf(&b, "52W vs Cur: %s\n", NA)
		}
		fmt.Fprintf(&b, "Level: %s\n", a.LevelLabel())
	}
	return b.String()
}

// Row background buckets.
const (
	ColorStrong  = "#f8b4b4"
	ColorMedium  = "#fcd5a5"
	ColorLight   = "#fff1b8"
	ColorNeutral = "#ffffff"
	ColorStale   = "#d9ccf2"
)

var (
	fifteen = decimal.NewFromInt(15)
	ten     = decimal.NewFromInt(10)
	five    = decimal.NewFromInt(5)
)

// RowClass buckets an alert for the html-table style; staleness wins.
func RowClass(a escalation.Alert, staleAfterDays int) string {
	if staleAfterDays <= 0 {
		staleAfterDays = DefaultStaleAfterDays
	}
	switch {
	case a.DaysSinceATH > staleAfterDays:
		return "stale"
	case a.DeclinePct.GreaterThanOrEqual(fifteen):
		return "strong"
	case a.DeclinePct.GreaterThanOrEqual(ten):
		return "medium"
	case a.DeclinePct.GreaterThanOrEqual(five):
		return "light"
	default:
		return "neutral"
	}
}

type htmlRow struct {
	Class        string
	Instrument   string
	ATH          string
	ATHDate      string
	Current      string
	CurrentDate  string
	Decline      string
	Vs52w        string
	Level        string
	DaysSinceATH int
}

type htmlData struct {
	Title          string
	Rows           []htmlRow
	Total          int
	StaleAfterDays int
}

var htmlTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Arial, sans-serif; color: #222; }
table { border-collapse: collapse; }
th, td { border: 1px solid #888; padding: 4px 8px; text-align: left; }
th { background: #eeeeee; }
tr.strong { background: ` + ColorStrong + `; }
tr.medium { background: ` + ColorMedium + `; }
tr.light { background: ` + ColorLight + `; }
tr.neutral { background: ` + ColorNeutral + `; }
tr.stale { background: ` + ColorStale + `; }
</style>
</head>
<body>
{{- if .Title}}
<h2>{{.Title}}</h2>
{{- end}}
<table border="1">
<tr><th>Instrument</th><th>ATH</th><th>ATH Date</th><th>Current</th><th>Date</th><th>Decline %</th><th>52W vs Cur %</th><th>Level</th><th>Days Since ATH</th></tr>
{{- range .Rows}}
<tr class="{{.Class}}"><td>{{.Instrument}}</td><td>{{.ATH}}</td><td>{{.ATHDate}}</td><td>{{.Current}}</td><td>{{.CurrentDate}}</td><td>{{.Decline}}</td><td>{{.Vs52w}}</td><td>{{.Level}}</td><td>{{.DaysSinceATH}}</td></tr>
{{- end}}
</table>
<p>Total alerts: {{.Total}}. Rows older than {{.StaleAfterDays}} days since ATH are highlighted.</p>
</body>
</html>
`))

func renderHTML(alerts []escalation.Alert, opts Options) (string, error) {
	data := htmlData{
		Title:          opts.Title,
		Total:          len(alerts),
		StaleAfterDays: opts.StaleAfterDays,
	}
	for _, a := range alerts {
		data.Rows = append(data.Rows, htmlRow{
			Class:        RowClass(a, opts.StaleAfterDays),
			Instrument:   a.Instrument,
			ATH:          price(opts.Currency, a.ATHPrice),
			ATHDate:      date(a.ATHDate),
			Current:      price(opts.Currency, a.CurrentPrice),
			CurrentDate:  date(a.CurrentDate),
			Decline:      a.DeclinePct.StringFixed(2),
			Vs52w:        nullPct(a.DeclineVs52wPct),
			Level:        a.LevelLabel(),
			DaysSinceATH: a.DaysSinceATH,
		})
	}

	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return buf.String(), nil
}

func price(currency string, d decimal.Decimal) string {
	return currency + d.StringFixed(2)
}

func date(t time.Time) string {
	if t.IsZero() {
		return NA
	}
	return t.Format(dateLayout)
}

func nullPct(d decimal.NullDecimal) string {
	if !d.Valid {
		return NA
	}
	return d.Decimal.StringFixed(2)
}
