// 配置文件监视器测试。
package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWatchedFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// --- 生命周期 ---

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher("config.yaml", func() {})
	assert.Equal(t, DefaultPollInterval, w.interval)
	assert.False(t, w.Running())
}

func TestWatcher_StartValidation(t *testing.T) {
	err := NewWatcher("", func() {}).Start()
	assert.Error(t, err)

	err = NewWatcher("config.yaml", nil).Start()
	assert.Error(t, err)
}

func TestWatcher_DoubleStartFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWatchedFile(t, path, "a: 1\n")

	w := NewWatcher(path, func() {}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Error(t, w.Start())
	assert.True(t, w.Running())
}

func TestWatcher_StopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWatchedFile(t, path, "a: 1\n")

	w := NewWatcher(path, func() {}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
	assert.False(t, w.Running())

	// 未启动过的监视器 Stop 也是安全的
	NewWatcher(path, func() {}).Stop()
}

// --- 变更检测 ---

func TestWatcher_NotifiesOnceAfterContentSettles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWatchedFile(t, path, "log:\n  level: info\n")

	var fired atomic.Int32
	w := NewWatcher(path, func() { fired.Add(1) }, WithPollInterval(10*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	writeWatchedFile(t, path, "log:\n  level: debug\n")

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		3*time.Second, 10*time.Millisecond)

	// 内容不再变化时不能重复触发
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatcher_TouchWithoutContentChangeIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWatchedFile(t, path, "log:\n  level: info\n")

	var fired atomic.Int32
	w := NewWatcher(path, func() { fired.Add(1) }, WithPollInterval(10*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	// 只改 mtime，内容指纹不变
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatcher_FileAppearingLaterTriggersNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var fired atomic.Int32
	w := NewWatcher(path, func() { fired.Add(1) }, WithPollInterval(10*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	writeWatchedFile(t, path, "log:\n  level: warn\n")

	require.Eventually(t, func() bool { return fired.Load() >= 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestWatcher_FileRemovalDoesNotNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWatchedFile(t, path, "log:\n  level: info\n")

	var fired atomic.Int32
	w := NewWatcher(path, func() { fired.Add(1) }, WithPollInterval(10*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
