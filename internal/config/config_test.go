package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabdya767/Stock-ATH-Alert/internal/catalog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: athwatch\n"))
	require.NoError(t, err)

	assert.Equal(t, ProviderNAV, cfg.Provider.Kind)
	assert.Equal(t, []float64{2, 5, 10, 20}, cfg.Alerting.Thresholds)
	assert.Equal(t, "plain-table", cfg.Report.Style)
	assert.Equal(t, 365, cfg.Report.StaleAfterDays)
	assert.Equal(t, ChannelStdout, cfg.Notify.Channel)
	assert.Equal(t, BackendFile, cfg.State.Backend)
	assert.Equal(t, "state.json", cfg.State.Path)
	assert.Equal(t, 10*time.Second, cfg.Provider.RequestTimeout)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.True(t, strings.HasPrefix(cfg.Provider.UserAgent, "athwatch/"))

	c := cfg.BuildCatalog()
	assert.Equal(t, len(catalog.DefaultFunds), c.Len())
	assert.Equal(t, "📉 Fund Alert: Down from ATH", cfg.Subject())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("STOCKS", "RELIANCE.NS, TCS.NS")
	t.Setenv("STATE_FILE", "/tmp/stock_state.json")
	t.Setenv("ATHWATCH_NOTIFY_CHANNEL", "email")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_USERNAME", "bot")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("EMAIL_FROM", "Alerts <alerts@example.com>")
	t.Setenv("EMAIL_TO", "a@example.com,b@example.com")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ProviderStock, cfg.Provider.Kind)
	assert.Equal(t, "/tmp/stock_state.json", cfg.State.Path)
	assert.Equal(t, 465, cfg.Email.Port)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Email.To)
	assert.Equal(t, "📉 Stock Alert: Down from ATH", cfg.Subject())

	c := cfg.BuildCatalog()
	require.Equal(t, 2, c.Len(), "nav defaults are not used for stocks")
	assert.True(t, c.Contains("TCS.NS"))
}

func TestStocksEnvAloneSelectsStockProvider(t *testing.T) {
	t.Setenv("STOCKS", "RELIANCE.NS,TCS.NS")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ProviderStock, cfg.Provider.Kind)
	names := []string{}
	for _, inst := range cfg.BuildCatalog().Instruments() {
		names = append(names, inst.Name)
	}
	assert.Equal(t, []string{"RELIANCE.NS", "TCS.NS"}, names)
}

func TestExplicitProviderKindWins(t *testing.T) {
	t.Setenv("STOCKS", "RELIANCE.NS")
	t.Setenv("ATHWATCH_PROVIDER_KIND", "nav")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderNAV, cfg.Provider.Kind)

	cfg, err = Load(writeConfig(t, "provider:\n  kind: stock\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderNAV, cfg.Provider.Kind, "environment overrides the config file")
}

func TestProviderKindFromConfigFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "provider:\n  kind: stock\ncatalog:\n  symbols: [INFY.NS]\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderStock, cfg.Provider.Kind)
	assert.Equal(t, 1, cfg.BuildCatalog().Len())
}

func TestEmailConfigValidate(t *testing.T) {
	valid := EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "alerts@example.com",
		To:   []string{"a@example.com"},
		TLS:  "auto",
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.To = nil
	require.Error(t, missing.Validate())
}

func TestPrefixedEnvironmentWinsOverLegacy(t *testing.T) {
	t.Setenv("STATE_FILE", "legacy.json")
	t.Setenv("ATHWATCH_STATE_PATH", "prefixed.json")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "prefixed.json", cfg.State.Path)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := writeConfig(t, `
catalog:
  use_defaults: false
  instruments:
    - name: Custom Fund
      key: "100001"
  additional:
    - name: Extra Fund
      key: "100002"
  selection: ["Extra Fund", "Missing Fund"]
alerting:
  thresholds: [10, 3]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	names := []string{}
	for _, inst := range cfg.BuildCatalog().Instruments() {
		names = append(names, inst.Name)
	}
	assert.Equal(t, []string{"Custom Fund", "Extra Fund"}, names)
	assert.Equal(t, []float64{10, 3}, cfg.Alerting.Thresholds)
}

func TestSelectionEnvAddsAdditionalFund(t *testing.T) {
	t.Setenv("INPUT_SCHEMES", "Helios Small Cap Fund - Direct Growth")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	inst, ok := cfg.BuildCatalog().Lookup("Helios Small Cap Fund - Direct Growth")
	require.True(t, ok)
	assert.Equal(t, "INF0R8701384", inst.Key)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"provider":    "provider:\n  kind: crypto\n",
		"threshold":   "alerting:\n  thresholds: [5, -1]\n",
		"style":       "report:\n  style: markdown\n",
		"channel":     "notify:\n  channel: pager\n",
		"email":       "notify:\n  channel: email\nemail:\n  host: smtp.example.com\n  from: a@example.com\n",
		"telegram":    "notify:\n  channel: telegram\n",
		"postgres":    "state:\n  backend: postgres\n",
		"backend":     "state:\n  backend: redis\n",
		"cron":        "scheduler:\n  cron: \"not a cron\"\n",
		"interval":    "scheduler:\n  interval: 0s\n",
		"export":      "export:\n  max_data_points: 0\n",
		"bad-timeout": "provider:\n  request_timeout: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestValidateAcceptsCron(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scheduler:\n  cron: \"30 16 * * 1-5\"\n  interval: 0s\n"))
	require.NoError(t, err)
	assert.Equal(t, "30 16 * * 1-5", cfg.Scheduler.Cron)
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 7, cfg.ResolveMaxPoints(7))
}

func TestReportOptions(t *testing.T) {
	cfg := &Config{
		Provider: ProviderConfig{Kind: ProviderNAV},
		Report:   ReportConfig{StaleAfterDays: 30, Currency: "$"},
	}
	opts := cfg.ReportOptions()
	assert.Equal(t, 30, opts.StaleAfterDays)
	assert.Equal(t, "$", opts.Currency)
	assert.Equal(t, cfg.Subject(), opts.Title)
}
