package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// resetViper undoes setDefaults/ReadInConfig between tests, since viper
// keeps its settings in a package-level global.
func resetViper(t *testing.T) {
	t.Helper()
	t.Cleanup(viper.Reset)
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	resetViper(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	require.Equal(t, ".", cfg.Repo.BaseDir)
	require.Equal(t, 1024, cfg.Repo.MaxCachedConfigs)
	require.False(t, cfg.Lock.Enabled())
	require.False(t, cfg.Audit.Enabled)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9000
repo:
  base_dir: /srv/repos
audit:
  enabled: true
  dsn: "file:audit.db"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	require.Equal(t, "/srv/repos", cfg.Repo.BaseDir)
	require.True(t, cfg.Audit.Enabled)
}

func TestValidateRejectsHalfConfiguredTLS(t *testing.T) {
	resetViper(t)

	cfg := &Config{
		Server: ServerConfig{Port: 8080, TLSCertFile: "cert.pem"},
		Repo:   RepoConfig{BaseDir: ".", MaxCachedConfigs: 1},
		Log:    LogConfig{},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsAuditEnabledWithoutDSN(t *testing.T) {
	resetViper(t)

	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Repo:   RepoConfig{BaseDir: ".", MaxCachedConfigs: 1},
		Log:    LogConfig{},
		Audit:  AuditConfig{Enabled: true},
	}
	require.Error(t, cfg.Validate())
}
