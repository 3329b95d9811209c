package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"fronix-gateway/config"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const routesDebounce = 500 * time.Millisecond

// RoutesWatcher 监听路由表文件变化并热加载到 UpstreamRouter
// 监听所在目录而不是文件本身，编辑器的 "写临时文件再改名" 也能被捕获
type RoutesWatcher struct {
	path      string
	router    *UpstreamRouter
	providers map[string]config.ProviderConfig
	logger    *logrus.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
}

func NewRoutesWatcher(path string, router *UpstreamRouter, providers map[string]config.ProviderConfig, logger *logrus.Logger) (*RoutesWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	return &RoutesWatcher{
		path:      abs,
		router:    router,
		providers: providers,
		logger:    logger,
		watcher:   watcher,
	}, nil
}

// Run 阻塞直到 ctx 结束
func (w *RoutesWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	w.logger.Infof("👀 Watching routing table %s", w.path)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Routing table watcher error: %v", err)
		}
	}
}

// schedule 合并短时间内的多次事件
func (w *RoutesWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(routesDebounce, func() {
		if err := w.Reload(); err != nil {
			w.logger.Errorf("❌ Routing table reload failed, keeping previous table: %v", err)
		}
	})
}

// Reload 读取并校验路由表，校验失败时保留旧表
func (w *RoutesWatcher) Reload() error {
	table, err := config.LoadRoutingTable(w.path)
	if err != nil {
		return err
	}
	if err := table.Validate(w.providers); err != nil {
		return err
	}
	w.router.RefreshTable(table)
	return nil
}
