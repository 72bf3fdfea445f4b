package core

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// initProjectWatcher starts the hot-reload loop: file changes under the
// project directory rebuild the snapshot behind the atomic value. Watching
// only works on a real filesystem; in-memory projects (tests) skip it.
func (s *Squirrels) initProjectWatcher() error {
	p := s.engine()
	if _, ok := p.fs.(*afero.OsFs); !ok {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := []string{
		p.dir,
		filepath.Join(p.dir, "models/dbviews"),
		filepath.Join(p.dir, "models/federates"),
		filepath.Join(p.dir, "models/builds"),
	}
	for _, d := range dirs {
		w.Add(d) //nolint:errcheck
	}

	go s.watchLoop(w)
	return nil
}

func (s *Squirrels) watchLoop(w *fsnotify.Watcher) {
	defer w.Close() //nolint:errcheck

	// coalesce editor write bursts into one reload
	var pending <-chan time.Time

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(500 * time.Millisecond)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if log := s.engine().log; log != nil {
				log.Warnw("project watcher error", "error", err)
			}

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				if log := s.engine().log; log != nil {
					log.Errorw("project reload failed", "error", err)
				}
			}
		}
	}
}
