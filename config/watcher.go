// =============================================================================
// 👀 配置文件监视
// =============================================================================
// 以固定间隔轮询单个配置文件，基于内容指纹判定变更。
// 新指纹需要连续两个周期保持一致才触发回调，半写状态不会引起误重载。
// =============================================================================
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval 是配置文件轮询的默认间隔
const DefaultPollInterval = time.Second

// Watcher 轮询单个配置文件，在内容稳定变更后调用 notify。
// notify 在监视 goroutine 上执行，不应长时间阻塞。
type Watcher struct {
	path     string
	interval time.Duration
	notify   func()
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// WatchOption 配置 Watcher
type WatchOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger 设置日志记录器
func WithWatchLogger(logger *zap.Logger) WatchOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher 创建文件监视器。文件此刻不存在不是错误，出现后按变更处理
func NewWatcher(path string, notify func(), opts ...WatchOption) *Watcher {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		notify:   notify,
		logger:   zap.NewNop(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start 启动监视 goroutine。生命周期是一次性的：停止后不能再启动
func (w *Watcher) Start() error {
	if w.path == "" {
		return fmt.Errorf("watch path is empty")
	}
	if w.notify == nil {
		return fmt.Errorf("notify callback is nil")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	base, ok := w.fingerprint()
	if !ok {
		w.logger.Warn("Config file not readable yet, watching for it to appear",
			zap.String("path", w.path))
	}
	go w.loop(base, ok)

	w.logger.Info("Config file watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.interval))
	return nil
}

// Stop 停止监视并等待轮询 goroutine 退出，可重复调用
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stop)
	w.mu.Unlock()

	<-w.done
	w.logger.Info("Config file watcher stopped")
}

// Running 报告监视 goroutine 是否仍在运行
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// =============================================================================
// 🔍 轮询与指纹
// =============================================================================

// fileprint 是一次文件观测的内容指纹。
// size 与 modTime 仅用于快速跳过未变化的文件，变更判定只看 sum。
type fileprint struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

// fingerprint 读取文件并计算指纹，文件不可读时 ok 为 false
func (w *Watcher) fingerprint() (fileprint, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileprint{}, false
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileprint{}, false
	}
	return fileprint{
		size:    info.Size(),
		modTime: info.ModTime(),
		sum:     sha256.Sum256(data),
	}, true
}

// loop 周期性检查文件。新指纹先进入 pending，下一个周期仍一致才触发
// notify，编辑器的原子替换和分块写入都只产生一次重载。
func (w *Watcher) loop(current fileprint, haveFile bool) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		pending    fileprint
		hasPending bool
	)

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		// 快速路径：stat 未变且没有待定变更时不读文件
		if haveFile && !hasPending {
			info, err := os.Stat(w.path)
			if err == nil && info.Size() == current.size && info.ModTime().Equal(current.modTime) {
				continue
			}
		}

		fp, ok := w.fingerprint()
		if !ok {
			if haveFile {
				w.logger.Warn("Config file disappeared or became unreadable, keeping last loaded config",
					zap.String("path", w.path))
				haveFile = false
			}
			hasPending = false
			continue
		}

		if haveFile && fp.sum == current.sum {
			// 内容没变（比如只是 touch），刷新 stat 基线并丢弃待定状态
			current = fp
			hasPending = false
			continue
		}

		if hasPending && fp.sum == pending.sum {
			// 连续两个周期看到同一份新内容，认为写入已完成
			current = fp
			haveFile = true
			hasPending = false
			w.logger.Debug("Config file change settled", zap.String("path", w.path))
			w.notify()
			continue
		}

		pending = fp
		hasPending = true
	}
}
