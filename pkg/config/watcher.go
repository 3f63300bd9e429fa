package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the config file, delivering each valid new revision on
// Updates. Invalid revisions are logged and skipped so a half-saved file
// never takes the client down.
type Watcher struct {
	path    string
	log     *zap.Logger
	fs      *fsnotify.Watcher
	updates chan Config
	done    chan struct{}
}

// Watch starts watching path. The caller owns the returned Watcher and must
// Close it.
func Watch(path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would silently die.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{
		path:    path,
		log:     log,
		fs:      fs,
		updates: make(chan Config, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Updates delivers each valid reloaded configuration.
func (w *Watcher) Updates() <-chan Config { return w.updates }

// Close stops the watcher goroutine and releases the OS watch.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("ignoring invalid config revision", zap.Error(err))
				continue
			}
			select {
			case w.updates <- cfg:
			default:
				// Collapse bursts: drop the stale pending revision.
				select {
				case <-w.updates:
				default:
				}
				w.updates <- cfg
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
