// 配置热重载测试。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// reloadFixture 覆盖校验必填项，其余字段沿用默认值
type reloadFixture struct {
	httpPort     int
	pollInterval string
	secretKey    string
}

func defaultReloadFixture() reloadFixture {
	return reloadFixture{httpPort: 8080, pollInterval: "5s", secretKey: "vendor-key"}
}

func writeReloadConfig(t *testing.T, path string, f reloadFixture) {
	t.Helper()
	content := fmt.Sprintf(`
server:
  http_port: %d
store:
  url: "https://proj.supabase.co"
  anon_key: "anon"
  service_key: "service"
vendor:
  secret_id: "sid"
  secret_key: %q
  poll_interval: %s
  poll_timeout: 5m
`, f.httpPort, f.secretKey, f.pollInterval)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func loadReloadConfig(t *testing.T, path string) *Config {
	t.Helper()
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	return cfg
}

// --- Reload 行为 ---

func TestReloadManager_HotFieldApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	m := NewReloadManager(loadReloadConfig(t, path), path, zap.NewNop())

	var changes []Change
	m.OnFieldChange(func(ch Change) { changes = append(changes, ch) })

	var appliedOld, appliedNew *Config
	m.OnApply(func(oldCfg, newCfg *Config) { appliedOld, appliedNew = oldCfg, newCfg })

	f := defaultReloadFixture()
	f.pollInterval = "2s"
	writeReloadConfig(t, path, f)

	require.NoError(t, m.Reload())

	require.Len(t, changes, 1)
	assert.Equal(t, "vendor.poll_interval", changes[0].Path)
	assert.Equal(t, "5s", changes[0].Old)
	assert.Equal(t, "2s", changes[0].New)
	assert.False(t, changes[0].RequiresRestart)

	require.NotNil(t, appliedNew)
	assert.Equal(t, 5*time.Second, appliedOld.Vendor.PollInterval)
	assert.Equal(t, 2*time.Second, appliedNew.Vendor.PollInterval)
	assert.Same(t, appliedNew, m.Current())
}

func TestReloadManager_RestartFieldFlagged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	m := NewReloadManager(loadReloadConfig(t, path), path, zap.NewNop())

	var changes []Change
	m.OnFieldChange(func(ch Change) { changes = append(changes, ch) })

	f := defaultReloadFixture()
	f.httpPort = 9090
	writeReloadConfig(t, path, f)

	require.NoError(t, m.Reload())

	require.Len(t, changes, 1)
	assert.Equal(t, "server.http_port", changes[0].Path)
	assert.Equal(t, "8080", changes[0].Old)
	assert.Equal(t, "9090", changes[0].New)
	assert.True(t, changes[0].RequiresRestart)
}

func TestReloadManager_SecretValuesRedacted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	m := NewReloadManager(loadReloadConfig(t, path), path, zap.NewNop())

	var changes []Change
	m.OnFieldChange(func(ch Change) { changes = append(changes, ch) })

	f := defaultReloadFixture()
	f.secretKey = "rotated-key"
	writeReloadConfig(t, path, f)

	require.NoError(t, m.Reload())

	require.Len(t, changes, 1)
	assert.Equal(t, "vendor.secret_key", changes[0].Path)
	assert.Equal(t, redactedValue, changes[0].Old)
	assert.Equal(t, redactedValue, changes[0].New)
	assert.True(t, changes[0].RequiresRestart)

	// 脱敏只影响通知，新值本身要生效
	assert.Equal(t, "rotated-key", m.Current().Vendor.SecretKey)
}

func TestReloadManager_InvalidConfigKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	initial := loadReloadConfig(t, path)
	m := NewReloadManager(initial, path, zap.NewNop())

	fired := 0
	m.OnFieldChange(func(Change) { fired++ })
	m.OnApply(func(*Config, *Config) { fired++ })

	// 轮询间隔长于总超时，校验必须拒绝
	f := defaultReloadFixture()
	f.pollInterval = "10m"
	writeReloadConfig(t, path, f)

	err := m.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Same(t, initial, m.Current())
	assert.Zero(t, fired)
}

func TestReloadManager_NoChangesNoCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	// nil logger 也要能工作
	m := NewReloadManager(loadReloadConfig(t, path), path, nil)

	fired := 0
	m.OnFieldChange(func(Change) { fired++ })
	m.OnApply(func(*Config, *Config) { fired++ })

	require.NoError(t, m.Reload())
	assert.Zero(t, fired)
}

func TestReloadManager_SubscriberPanicContained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	m := NewReloadManager(loadReloadConfig(t, path), path, zap.NewNop())
	m.OnApply(func(*Config, *Config) { panic("subscriber exploded") })

	f := defaultReloadFixture()
	f.pollInterval = "3s"
	writeReloadConfig(t, path, f)

	require.NotPanics(t, func() { require.NoError(t, m.Reload()) })

	// panic 不回滚：新配置在通知前已经生效
	assert.Equal(t, 3*time.Second, m.Current().Vendor.PollInterval)
}

func TestReloadManager_WatchedFileChangeApplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeReloadConfig(t, path, defaultReloadFixture())

	m := NewReloadManager(loadReloadConfig(t, path), path, zap.NewNop(),
		WithReloadPollInterval(10*time.Millisecond))
	require.NoError(t, m.Start())
	defer m.Stop()

	f := defaultReloadFixture()
	f.pollInterval = "2s"
	writeReloadConfig(t, path, f)

	require.Eventually(t, func() bool {
		return m.Current().Vendor.PollInterval == 2*time.Second
	}, 3*time.Second, 10*time.Millisecond)
}

// --- 字段级比较 ---

func TestDiffConfigs_ClassifiesByField(t *testing.T) {
	oldCfg := DefaultConfig()
	newCfg := DefaultConfig()
	newCfg.Log.Level = "debug"
	newCfg.Server.HTTPPort = 9090
	newCfg.Store.ServiceKey = "rotated"
	newCfg.Generation.MaxDownloadBytes = 1024
	newCfg.Server.CORSAllowedOrigins = []string{"http://localhost:3000", "https://app.example.com"}

	byPath := map[string]Change{}
	for _, ch := range diffConfigs(oldCfg, newCfg) {
		byPath[ch.Path] = ch
	}
	require.Len(t, byPath, 5)

	assert.False(t, byPath["log.level"].RequiresRestart)
	assert.Equal(t, "info", byPath["log.level"].Old)
	assert.Equal(t, "debug", byPath["log.level"].New)

	assert.True(t, byPath["server.http_port"].RequiresRestart)

	assert.True(t, byPath["store.service_key"].RequiresRestart)
	assert.Equal(t, redactedValue, byPath["store.service_key"].New)

	assert.False(t, byPath["generation.max_download_bytes"].RequiresRestart)
	assert.Equal(t, "1024", byPath["generation.max_download_bytes"].New)

	assert.Equal(t, "http://localhost:3000,https://app.example.com",
		byPath["server.cors_allowed_origins"].New)
}

func TestDiffConfigs_IdenticalConfigsProduceNothing(t *testing.T) {
	assert.Empty(t, diffConfigs(DefaultConfig(), DefaultConfig()))
}

func TestDiffConfigs_DurationsRenderHumanReadable(t *testing.T) {
	oldCfg := DefaultConfig()
	newCfg := DefaultConfig()
	newCfg.Store.SignedURLTTL = 30 * time.Minute

	changes := diffConfigs(oldCfg, newCfg)
	require.Len(t, changes, 1)
	assert.Equal(t, "store.signed_url_ttl", changes[0].Path)
	assert.Equal(t, "1h0m0s", changes[0].Old)
	assert.Equal(t, "30m0s", changes[0].New)
	assert.False(t, changes[0].RequiresRestart)
}
