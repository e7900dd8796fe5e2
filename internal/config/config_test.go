package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `
server: irc.example.net:6697
nickname: solaudit
sasl:
  username: solaudit
  password: hunter2
oper:
  name: solaudit
  password: opersecret
channels:
  - "#opers"
log_channel: "#audit-log"
reject_cap: 3
database_dsn: "host=localhost dbname=solaudit"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "irc.example.net:6697", cfg.Server)
	require.Equal(t, "solaudit", cfg.Nickname)
	require.Equal(t, []string{"#opers"}, cfg.Channels)
	require.Equal(t, 3, cfg.RejectCap)
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, `
nickname: solaudit
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "server")
	require.Contains(t, err.Error(), "database_dsn")
}

func TestLoadRejectsNegativeRejectCap(t *testing.T) {
	path := writeTemp(t, `
server: irc.example.net:6697
nickname: solaudit
oper:
  name: solaudit
  password: x
reject_cap: -1
database_dsn: "host=localhost dbname=solaudit"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reject_cap")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
