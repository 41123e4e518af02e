package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("JASKLEDGER_CONFIG", "")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "share", "jaskledger", "jaskledger.db"), c.Database.Path)
	require.Equal(t, ":8080", c.HTTP.Addr)
	require.Equal(t, 15*time.Second, c.HTTP.ShutdownTimeout)
	require.Equal(t, 5, c.Import.PreviewRows)
	require.Equal(t, 50000, c.Import.MaxRows)
	require.Equal(t, 5*time.Second, c.Import.NotifyTimeout)
	require.Equal(t, 2*time.Minute, c.Import.StaleAfter)
	require.Equal(t, "jaskledger:events", c.Notify.RedisChannel)
	require.NoError(t, c.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/jaskledger/ledger.db"

[import]
preview_rows = 10
date_layouts = ["02/01/2006", "2006-01-02"]
timezone = "Africa/Nairobi"

[log]
format = "json"
`), 0o600))
	t.Setenv("HOME", dir)
	t.Setenv("JASKLEDGER_CONFIG", path)
	t.Setenv("JASKLEDGER_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("JASKLEDGER_IMPORT_MAX_ROWS", "100")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/jaskledger/ledger.db", c.Database.Path)
	require.Equal(t, 10, c.Import.PreviewRows)
	require.Equal(t, 100, c.Import.MaxRows)
	require.Equal(t, []string{"02/01/2006", "2006-01-02"}, c.Import.DateLayouts)
	require.Equal(t, "s3cret", c.Auth.JWTSecret)
	require.Equal(t, "json", c.Log.Format)

	loc, err := c.Import.Location()
	require.NoError(t, err)
	require.Equal(t, "Africa/Nairobi", loc.String())
}

func TestLoadBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database\npath = "), 0o600))
	t.Setenv("JASKLEDGER_CONFIG", path)

	_, err := Load()
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	c := Config{
		Database: DatabaseConfig{Path: "x.db"},
		Import:   ImportConfig{PreviewRows: 5, MaxRows: 10, Timezone: "Mars/Olympus"},
		Log:      LogConfig{Format: "xml"},
	}
	err := c.Validate()
	require.ErrorContains(t, err, "import.timezone")
	require.ErrorContains(t, err, "log.format")
	require.ErrorContains(t, err, "import.stale_after")

	c.Import.Timezone = ""
	c.Import.StaleAfter = time.Minute
	c.Log.Format = "console"
	require.NoError(t, c.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv("JASKLEDGER_CONFIG", path)

	in := Config{
		Database: DatabaseConfig{Path: "/tmp/l.db"},
		HTTP:     HTTPConfig{Addr: ":9090", ShutdownTimeout: 3 * time.Second},
		Auth:     AuthConfig{JWTSecret: "never-written"},
		Import:   ImportConfig{PreviewRows: 7, MaxRows: 70, Timezone: "UTC", NotifyTimeout: time.Second, StaleAfter: 90 * time.Second},
		Log:      LogConfig{Level: "debug", Format: "json"},
	}
	written, err := Save(in)
	require.NoError(t, err)
	require.Equal(t, path, written)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "never-written")

	out, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", out.HTTP.Addr)
	require.Equal(t, 3*time.Second, out.HTTP.ShutdownTimeout)
	require.Equal(t, 7, out.Import.PreviewRows)
	require.Equal(t, 90*time.Second, out.Import.StaleAfter)
	require.Equal(t, "debug", out.Log.Level)
}
