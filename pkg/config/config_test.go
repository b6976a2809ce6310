package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkirklewski/bgNews/pkg/weather"
)

const sampleConfig = `
backend:
  endpoint: "ws://127.0.0.1:9222"
  connect_timeout: "20s"
  reconnect_attempts: 3
dirs:
  data: "/var/lib/bgnews"
page:
  identity: "100027689516729"
  name: "Boguszów-Gorce Newsy"
  url: "https://www.facebook.com/profile.php?id=100027689516729"
lock:
  ttl: "5m"
share:
  monitored_pages:
    - "https://www.facebook.com/some-page"
  groups:
    - "Boguszów-Gorce mieszkańcy"
scrape:
  sources:
    - "https://news.example.pl"
  keywords:
    - "bogusz"
weather:
  town_name: "Boguszów-Gorce"
  locative: "w Boguszowie-Gorcach"
  districts:
    - name: "Gorce"
      lat: 50.76
      lon: 16.195
    - name: "Boguszów-Gorce"
      lat: 50.7551
      lon: 16.2049
  center_index: 1
  groups:
    - "Boguszów-Gorce mieszkańcy"
dry_run: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bgnews.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, sampleConfig))
		require.NoError(t, err)

		assert.Equal(t, "ws://127.0.0.1:9222", cfg.Backend.Endpoint)
		assert.Equal(t, 20*time.Second, cfg.Backend.ConnectTimeout.Std())
		assert.Equal(t, 3, cfg.Backend.ReconnectAttempts)
		assert.Equal(t, "/var/lib/bgnews", cfg.Dirs.Data)
		assert.Equal(t, "100027689516729", cfg.Page.Identity)
		assert.Equal(t, 5*time.Minute, cfg.Lock.TTL.Std())
		assert.Equal(t, []string{"bogusz"}, cfg.Scrape.Keywords)
		require.Len(t, cfg.Weather.Districts, 2)
		assert.Equal(t, "Boguszów-Gorce", cfg.Weather.Districts[1].Name)
		assert.Equal(t, []string{"Boguszów-Gorce mieszkańcy"}, cfg.Weather.Groups)
		assert.True(t, cfg.DryRun)
	})

	t.Run("defaults fill unset fields", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, sampleConfig))
		require.NoError(t, err)

		// Not in the file, so these keep their defaults.
		assert.Equal(t, 90*time.Second, cfg.Backend.ActionTimeout.Std())
		assert.Equal(t, "Europe/Warsaw", cfg.Weather.Timezone)
		assert.Equal(t, 3, cfg.Share.MaxPosts)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("BGNEWS_BACKEND_ENDPOINT", "ws://10.0.0.5:9222")
		t.Setenv("BGNEWS_DRY_RUN", "false")

		cfg, err := Load(writeConfig(t, sampleConfig))
		require.NoError(t, err)
		assert.Equal(t, "ws://10.0.0.5:9222", cfg.Backend.Endpoint)
		assert.False(t, cfg.DryRun)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		_, err := Load(writeConfig(t, "backend: [not a map"))
		assert.Error(t, err)
	})

	t.Run("bad duration is an error", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
backend:
  endpoint: "ws://127.0.0.1:9222"
  connect_timeout: "soon"
page:
  identity: "1"
  url: "https://example.com"
`))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Backend.Endpoint = "ws://127.0.0.1:9222"
		cfg.Page.Identity = "100027689516729"
		cfg.Page.URL = "https://www.facebook.com/profile.php?id=100027689516729"
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing endpoint", func(t *testing.T) {
		cfg := valid()
		cfg.Backend.Endpoint = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing page identity", func(t *testing.T) {
		cfg := valid()
		cfg.Page.Identity = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive lock ttl", func(t *testing.T) {
		cfg := valid()
		cfg.Lock.TTL = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("center index out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Weather.Districts = []weather.District{{Name: "Center"}}
		cfg.Weather.CenterIndex = 1
		assert.Error(t, cfg.Validate())
	})
}
