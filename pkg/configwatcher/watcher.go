package configwatcher

import (
	"context"
	"edurefund_backend/pkg/logger"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounce = time.Second

// Reloader 文件变更后被调用，返回错误时保留旧配置
type Reloader func(path string) error

// WatchFile 监听文件所在目录，编辑器以重命名方式替换文件时也能感知
func WatchFile(ctx context.Context, path string, reload Reloader) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// 防抖处理
					timer.Reset(debounce)
				}
			case <-timer.C:
				if err := reload(absPath); err != nil {
					logger.Log.Error("Failed to reload watched file", zap.String("path", absPath), zap.Error(err))
					continue
				}
				logger.Log.Info("Reloaded watched file", zap.String("path", absPath))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Log.Error("File watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
