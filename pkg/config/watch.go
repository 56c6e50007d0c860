package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration from disk whenever the backing file
// changes.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	updates chan *Config
	errs    chan error
	done    chan struct{}
}

// Watch starts watching configPath's containing directory (editors
// commonly replace a file by renaming a temp file over it, which fires
// no event on the original inode, only on its directory) and reloads
// and validates the configuration on every write or create event for
// that file.
func Watch(configPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:    configPath,
		fsw:     fsw,
		updates: make(chan *Config, 1),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Updates returns the channel a reloaded, validated Config is sent on.
func (w *Watcher) Updates() <-chan *Config { return w.updates }

// Errors returns the channel a failed reload's error is sent on; the
// previous configuration remains in effect when this fires.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			select {
			case w.updates <- cfg:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
