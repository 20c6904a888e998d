package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsCoverEveryBlock(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	llm := cfg.GetLLM()
	require.Equal(t, "openai", llm.Provider)
	require.Equal(t, 1000, llm.MaxBodySize)

	store := cfg.GetStore()
	require.Equal(t, "sqlite", store.Type)
	require.Equal(t, "/data/mail_sorter_state.db", store.SQLitePath)

	mon, err := cfg.GetMonitor()
	require.NoError(t, err)
	require.Equal(t, 10, mon.BatchSize)
	require.Equal(t, 29*time.Minute, mon.IdleTimeout)
	require.Equal(t, 100, mon.MaxPerCycle)
	require.Equal(t, 30, mon.LookbackDays)
	require.Equal(t, 5*time.Second, mon.ReconnectBaseDelay)
	require.Equal(t, 5*time.Minute, mon.ReconnectMaxDelay)
	require.Equal(t, 10*time.Second, mon.StorageRetryDelay)
	require.Equal(t, 2*time.Second, mon.RetryDelay)
	require.Equal(t, 3, mon.MaxBatchAttempts)
	require.Equal(t, 2, mon.MaxMessageAttempts)
	require.Equal(t, 4, mon.MaxConcurrentRequests)
	require.False(t, mon.DryRun)

	require.Equal(t, "info", cfg.GetString("logging.level"))
	require.Equal(t, "json", cfg.GetString("logging.format"))
}

func TestGetMonitorRejectsMalformedDuration(t *testing.T) {
	v := NewEmptyViper()
	v.Set("monitor.idle_timeout", "soon")

	_, err := NewFromViper(v).GetMonitor()
	require.Error(t, err)
	require.Contains(t, err.Error(), "monitor.idle_timeout")
}

func TestGetMonitorOverrides(t *testing.T) {
	v := NewEmptyViper()
	v.Set("monitor.idle_timeout", "10m")
	v.Set("monitor.reconnect_base_delay", "1s")
	v.Set("monitor.max_per_cycle", 25)
	v.Set("monitor.dry_run", true)

	mon, err := NewFromViper(v).GetMonitor()
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, mon.IdleTimeout)
	require.Equal(t, time.Second, mon.ReconnectBaseDelay)
	require.Equal(t, 25, mon.MaxPerCycle)
	require.True(t, mon.DryRun)
}

func TestGetAccountsParsesTLSAsPointer(t *testing.T) {
	v := NewEmptyViper()
	v.Set("accounts", []map[string]interface{}{
		{
			"name":     "work",
			"host":     "imap.example.com",
			"username": "me@example.com",
			"password": "secret",
		},
		{
			"name":     "legacy",
			"host":     "mail.internal",
			"port":     143,
			"tls":      false,
			"username": "robot",
			"password": "hunter2",
		},
	})

	accounts, err := NewFromViper(v).GetAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	// Absent tls key must stay nil so callers can default it to true.
	require.Nil(t, accounts[0].TLS)

	require.NotNil(t, accounts[1].TLS)
	require.False(t, *accounts[1].TLS)
	require.Equal(t, 143, accounts[1].Port)
}

func TestGetAccountsParsesCategories(t *testing.T) {
	v := NewEmptyViper()
	v.Set("accounts", []map[string]interface{}{
		{
			"name":     "work",
			"host":     "imap.example.com",
			"username": "me@example.com",
			"categories": []map[string]interface{}{
				{"name": "SPAM", "description": "Unsolicited mail", "folder": "Junk"},
				{"name": "RECEIPTS"},
			},
		},
	})

	accounts, err := NewFromViper(v).GetAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Len(t, accounts[0].Categories, 2)
	require.Equal(t, "SPAM", accounts[0].Categories[0].Name)
	require.Equal(t, "Junk", accounts[0].Categories[0].Folder)
	require.Equal(t, "RECEIPTS", accounts[0].Categories[1].Name)
	require.Empty(t, accounts[0].Categories[1].Folder)
}

func TestNewFromFileReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
llm:
  provider: gemini
store:
  type: memory
accounts:
  - name: personal
    host: imap.example.net
    username: me
    password: pw
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := NewFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.GetLLM().Provider)
	require.Equal(t, "memory", cfg.GetStore().Type)

	// Values absent from the file keep their defaults.
	require.Equal(t, "gpt-4o-mini", cfg.GetOpenAI().ModelName)

	accounts, err := cfg.GetAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "personal", accounts[0].Name)
}

func TestNewFromFileRejectsMissingFile(t *testing.T) {
	_, err := NewFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
