package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/scheduler"
)

// fieldsFile keeps the scheduler's pool in step with the fields file. Admin
// edits go through the file so that a later reload keeps them.
type fieldsFile struct {
	path  string
	sched *scheduler.Scheduler
	log   *logging.Logger

	mu sync.Mutex
}

func newFieldsFile(path string, sched *scheduler.Scheduler, log *logging.Logger) *fieldsFile {
	return &fieldsFile{path: path, sched: sched, log: log}
}

// load applies the file to the pool. A missing file means an empty pool.
func (f *fieldsFile) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *fieldsFile) loadLocked() error {
	cfgs, err := f.read()
	if err != nil {
		return err
	}
	res := f.sched.Sync(cfgs)
	for _, e := range res.Errors {
		f.log.Warnf("skipping field: %v", e)
	}
	f.log.Infof("fields loaded path=%s added=%d removed=%d invalid=%d",
		f.path, len(res.Added), len(res.Removed), len(res.Errors))
	return nil
}

func (f *fieldsFile) read() ([]scheduler.FieldConfig, error) {
	cfgs, err := scheduler.LoadFields(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return cfgs, err
}

// add validates cfg, writes it into the file (replacing a record of the same
// name) and adds it to the pool.
func (f *fieldsFile) add(cfg scheduler.FieldConfig) (*scheduler.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	built, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	cfgs, err := f.read()
	if err != nil {
		return nil, err
	}
	replaced := false
	for i := range cfgs {
		if cfgs[i].Name == cfg.Name {
			cfgs[i] = cfg
			replaced = true
		}
	}
	if !replaced {
		cfgs = append(cfgs, cfg)
	}
	if err := scheduler.WriteFields(f.path, cfgs); err != nil {
		return nil, fmt.Errorf("write fields file: %w", err)
	}
	// Re-adding an unchanged record keeps the pool entry and its progress.
	if prev, ok := f.sched.Observation(cfg.Name); ok && prev.SameParams(built) {
		return prev, nil
	}
	return f.sched.AddObservation(cfg)
}

// remove deletes name from the file and the pool. It reports whether the pool
// held it.
func (f *fieldsFile) remove(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfgs, err := f.read()
	if err != nil {
		return false, err
	}
	kept := cfgs[:0]
	for _, c := range cfgs {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	if len(kept) != len(cfgs) {
		if err := scheduler.WriteFields(f.path, kept); err != nil {
			return false, fmt.Errorf("write fields file: %w", err)
		}
	}
	return f.sched.RemoveObservation(name), nil
}

// watch watches the file's directory; atomic writes replace the file, which
// would drop a watch on the file itself.
func (f *fieldsFile) watch() (*fsnotify.Watcher, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return w, nil
}

func (f *fieldsFile) loop(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			f.log.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			if err := f.load(); err != nil {
				f.log.Errorf("reload fields: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.log.Errorf("fsnotify error=%v", err)
		}
	}
}
