package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadSite_MissingFileUsesDefaults(t *testing.T) {
	site, err := LoadSite(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "centanet", site.ID)
	require.Equal(t, "SecondHand", site.PostType)
	require.Equal(t, "en", site.Headers["Lang"])
	require.NotEmpty(t, site.Endpoints[EndpointTransactionSearch])
}

func TestLoadSite_OverridesMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	body := "endpoints:\n  transaction_search: http://localhost:9999/search\nheaders:\n  Lang: zh-hk\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	site, err := LoadSite(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999/search", site.Endpoints[EndpointTransactionSearch])
	require.Equal(t, DefaultSite().Endpoints[EndpointConsumptionTable], site.Endpoints[EndpointConsumptionTable])
	require.Equal(t, "zh-hk", site.Headers["Lang"])
	require.Equal(t, "en-US,en;q=0.5", site.Headers["Accept-Language"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("HARVEST_RETRY_DELAY", "5s")
	t.Setenv("CHECKPOINT_BACKEND", "sqlite")
	t.Setenv("LOGLEVEL", "debug")
	t.Setenv("SITE_CONFIG", filepath.Join(dir, "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Harvest.RetryDelay)
	require.Equal(t, "sqlite", cfg.Harvest.CheckpointBackend)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, filepath.Join(dir, "next_start.txt"), cfg.CheckpointPath())
	require.Equal(t, filepath.Join(dir, "harvest.db"), cfg.DBPath)
}

func TestSetDataDir_ReRootsDefaults(t *testing.T) {
	cfg := &Config{DataDir: "data", DBPath: filepath.Join("data", "harvest.db"), EstatesPath: "/custom/estates.csv"}
	cfg.SetDataDir("other")
	require.Equal(t, filepath.Join("other", "harvest.db"), cfg.DBPath)
	require.Equal(t, "/custom/estates.csv", cfg.EstatesPath)
	require.Equal(t, filepath.Join("other", "records"), cfg.RecordsDir())
}

func TestLoad_VPNRegions(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SITE_CONFIG", filepath.Join(dir, "absent.yaml"))
	t.Setenv("VPN_ROTATE", "true")
	t.Setenv("VPN_REGIONS", "hk, sg ,,jp")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.VPN.Rotate)
	require.Equal(t, []string{"hk", "sg", "jp"}, cfg.VPN.Regions)
	require.Equal(t, "expressvpnctl", cfg.VPN.Command)
}
