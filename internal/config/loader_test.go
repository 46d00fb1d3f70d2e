package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "sim"
log_level = "debug"

[kis]
app_key = "key"
account_no = "12345678-01"
paper = true

[gateway]
timeout = "3s"
min_call_interval = "200ms"

[exit]
stop_loss_rate = 0.03
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "key", cfg.KIS.AppKey)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout.Duration)
	assert.Equal(t, 200*time.Millisecond, cfg.Gateway.MinCallInterval.Duration)
	assert.Equal(t, 0.03, cfg.Exit.StopLossRate)

	// Untouched fields keep their defaults.
	assert.Equal(t, 40, cfg.Feed.MaxSubscriptions)
	assert.Equal(t, 0.10, cfg.Exit.TakeProfit1Rate)
	assert.Equal(t, "Asia/Seoul", cfg.Market.Timezone)
	assert.Equal(t, time.Second, cfg.Exit.EvalInterval.Duration)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "sim"

[kis]
app_key = "from-file"
`)

	t.Setenv("KISBOT_KIS_APP_KEY", "from-env")
	t.Setenv("KISBOT_KIS_ACCOUNT_NO", "12345678-01")
	t.Setenv("KISBOT_MODE", "monitor")
	t.Setenv("KISBOT_FEED_RECONNECT_DELAY", "9s")
	t.Setenv("KISBOT_REDIS_ENABLED", "true")
	t.Setenv("KISBOT_NOTIFY_EVENTS", "stop_loss, trailing_stop")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.KIS.AppKey)
	assert.Equal(t, "12345678-01", cfg.KIS.AccountNo)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 9*time.Second, cfg.Feed.ReconnectDelay.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"stop_loss", "trailing_stop"}, cfg.Notify.Events)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("defaults in sim mode pass", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "sim"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("monitor mode requires credentials", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "monitor"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "app_key")
		assert.Contains(t, err.Error(), "account_no")
	})

	t.Run("credentialed monitor mode passes", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "monitor"
		cfg.KIS.AppKey = "key"
		cfg.KIS.AppSecret = "secret"
		cfg.KIS.AccountNo = "12345678-01"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("encrypted secret needs password", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "monitor"
		cfg.KIS.AppKey = "key"
		cfg.KIS.AccountNo = "12345678-01"
		cfg.KIS.EncryptedSecretPath = "/tmp/secret.json"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret_password")
	})

	t.Run("threshold ordering enforced", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "sim"
		cfg.Exit.TakeProfit2Rate = cfg.Exit.TakeProfit3Rate
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strictly increasing")
	})

	t.Run("bad mode and level rejected", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "yolo"
		cfg.LogLevel = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mode")
		assert.Contains(t, err.Error(), "unknown log_level")
	})

	t.Run("subscription cap bounded", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "sim"
		cfg.Feed.MaxSubscriptions = 41
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres checks only when enabled", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "sim"
		cfg.Postgres.Enabled = true
		cfg.Postgres.Host = ""
		assert.Error(t, cfg.Validate())

		cfg.Postgres.Enabled = false
		assert.NoError(t, cfg.Validate())
	})
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("110ms")))
	assert.Equal(t, 110*time.Millisecond, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "110ms", string(out))

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
