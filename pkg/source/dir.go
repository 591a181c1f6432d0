package source

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsImageFile reports whether name has an extension Dir decodes.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Dir replays the image files already present in a directory in name order,
// then optionally watches it for new files, as written by a camera that dumps
// snapshots to disk.
type Dir struct {
	Path string
	// Watch keeps the source running after the replay and emits new files.
	Watch bool
	// Interval paces the replay. Zero replays as fast as the consumer reads.
	Interval time.Duration
	// Settle is how long a watched file must go without writes before it is
	// decoded. Defaults to 200ms.
	Settle time.Duration
	Logger *slog.Logger
}

func (d *Dir) Name() string { return "dir" }

func (d *Dir) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Dir) Start(ctx context.Context, out chan<- Capture) error {
	info, err := os.Stat(d.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrTransport, d.Path)
	}

	// Subscribe before the replay so files landing during it are not missed.
	var watcher *fsnotify.Watcher
	if d.Watch {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("%w: create watcher: %v", ErrTransport, err)
		}
		defer watcher.Close()
		if err := watcher.Add(d.Path); err != nil {
			return fmt.Errorf("%w: watch %s: %v", ErrTransport, d.Path, err)
		}
	}

	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTransport, d.Path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]time.Time, len(names))
	for _, name := range names {
		path := filepath.Join(d.Path, name)
		c, modTime, err := decodeFile(path)
		if err != nil {
			d.logger().Warn("skipping unreadable image", "file", path, "error", err)
			continue
		}
		seen[path] = modTime
		if !emit(ctx, out, c) {
			return nil
		}
		if !pace(ctx, d.Interval) {
			return nil
		}
	}

	if watcher == nil {
		return nil
	}
	return d.watch(ctx, watcher, out, seen)
}

func (d *Dir) watch(ctx context.Context, watcher *fsnotify.Watcher, out chan<- Capture, seen map[string]time.Time) error {
	settle := d.Settle
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	// path -> time of the last write event
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrTransport)
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !IsImageFile(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: watcher closed", ErrTransport)
			}
			return fmt.Errorf("%w: watch %s: %v", ErrTransport, d.Path, err)

		case now := <-ticker.C:
			ready := make([]string, 0, len(pending))
			for path, last := range pending {
				if now.Sub(last) >= settle {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(pending, path)
				c, modTime, err := decodeFile(path)
				if err != nil {
					d.logger().Warn("skipping unreadable image", "file", path, "error", err)
					continue
				}
				if prev, ok := seen[path]; ok && prev.Equal(modTime) {
					continue
				}
				seen[path] = modTime
				if !emit(ctx, out, c) {
					return nil
				}
			}
		}
	}
}

func decodeFile(path string) (Capture, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return Capture{}, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Capture{}, time.Time{}, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return Capture{}, time.Time{}, fmt.Errorf("decode: %w", err)
	}
	return Capture{Image: img, At: info.ModTime(), Origin: filepath.Base(path)}, info.ModTime(), nil
}
