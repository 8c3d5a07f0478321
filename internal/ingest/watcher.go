package ingest

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher watches roots recursively and emits paths of matching files
// that were created, written or renamed into place. Bursts of events for the
// same file are coalesced over debounce. Both channels close when ctx ends.
func (u *Uploader) StartWatcher(ctx context.Context, roots []string, debounce time.Duration) (<-chan string, <-chan error, error) {
	if len(roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for _, r := range roots {
		err := filepath.WalkDir(r, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return w.Add(path)
			}
			return nil
		})
		if err != nil {
			_ = w.Close()
			return nil, nil, err
		}
	}

	paths := make(chan string, 256)
	errs := make(chan error, 1)
	go func() {
		defer close(paths)
		defer close(errs)
		defer func() { _ = w.Close() }()

		pending := map[string]struct{}{}
		var fire <-chan time.Time
		flush := func() bool {
			for p := range pending {
				select {
				case paths <- p:
				case <-ctx.Done():
					return false
				}
				delete(pending, p)
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					// new subdirectory; errors for plain files are expected
					_ = w.Add(e.Name)
				}
				if !u.matches(e.Name) || !(e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename)) {
					continue
				}
				if u.opts.SkipHidden && isHidden(e.Name) {
					continue
				}
				pending[e.Name] = struct{}{}
				if debounce <= 0 {
					if !flush() {
						return
					}
					continue
				}
				fire = time.After(debounce)
			case <-fire:
				fire = nil
				if !flush() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				u.logger.Error("ingest.watch.error", "error", err)
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()
	return paths, errs, nil
}

// Watch uploads every file that appears under roots until ctx ends. Rename
// events for a file that no longer exists are dropped.
func (u *Uploader) Watch(ctx context.Context, roots []string, debounce time.Duration) error {
	paths, _, err := u.StartWatcher(ctx, roots, debounce)
	if err != nil {
		return err
	}
	u.logger.Info("ingest.watch.started", "roots", roots, "debounce", debounce)
	for p := range paths {
		if !isRegularFile(p) {
			continue
		}
		u.UploadFile(ctx, p)
	}
	return ctx.Err()
}
