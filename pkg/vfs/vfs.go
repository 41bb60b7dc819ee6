// Package vfs is the flat in-memory file store behind the disk device.
package vfs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultQuota is the capacity of a new disk in bytes (a 1.44MB floppy).
const DefaultQuota = 1474560

// validName is a flat 8.3-style name: up to 12 word characters, an
// optional extension of up to 3.
var validName = regexp.MustCompile(`^\.?[a-zA-Z0-9_]{1,12}(\.[a-zA-Z0-9]{1,3})?$`)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
	ErrQuota       = errors.New("disk quota exceeded")
)

// ValidName reports whether name can be stored on a disk.
func ValidName(name string) bool { return validName.MatchString(name) }

type entry struct {
	data     []byte
	created  time.Time
	modified time.Time
}

// Info describes one stored file.
type Info struct {
	Name     string
	Size     int
	Created  time.Time
	Modified time.Time
}

// Disk is a set of named files with a byte quota. Changed names are tracked
// until the next PersistTo so only they are written back to the host.
type Disk struct {
	mu    sync.RWMutex
	quota int
	used  int
	files map[string]*entry
	dirty map[string]bool
}

// New returns an empty disk. A quota <= 0 means DefaultQuota.
func New(quota int) *Disk {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Disk{quota: quota, files: make(map[string]*entry), dirty: make(map[string]bool)}
}

// Write replaces the contents of name. The data is copied.
func (d *Disk) Write(name string, data []byte) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	old := 0
	e, exists := d.files[name]
	if exists {
		old = len(e.data)
	}
	if d.used-old+len(data) > d.quota {
		return ErrQuota
	}

	now := time.Now()
	if !exists {
		e = &entry{created: now}
		d.files[name] = e
	}
	e.data = append([]byte(nil), data...)
	e.modified = now
	d.used += len(data) - old
	d.dirty[name] = true
	return nil
}

// Read returns a copy of the contents of name.
func (d *Disk) Read(name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (d *Disk) Stat(name string) (Info, error) {
	if !ValidName(name) {
		return Info{}, ErrInvalidName
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.files[name]
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{Name: name, Size: len(e.data), Created: e.created, Modified: e.modified}, nil
}

func (d *Disk) Delete(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.files[name]
	if !ok {
		return ErrNotFound
	}
	d.used -= len(e.data)
	delete(d.files, name)
	// Still dirty, so the host copy is removed on the next persist.
	d.dirty[name] = true
	return nil
}

// Free returns the unused quota in bytes.
func (d *Disk) Free() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.quota - d.used
}

func (d *Disk) Used() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.used
}

// List returns the stored names in sorted order.
func (d *Disk) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.files))
	for n := range d.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dirty reports whether any change has not been persisted.
func (d *Disk) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.dirty) > 0
}

// LoadFrom adds every valid file in the host directory dir. A missing
// directory is not an error; files with invalid names are skipped. Loaded
// files are not dirty.
func (d *Disk) LoadFrom(dir string) error {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ent := range ents {
		if ent.IsDir() || !ValidName(ent.Name()) {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		mod := time.Now()
		if info, err := ent.Info(); err == nil {
			mod = info.ModTime()
		}
		if old, ok := d.files[ent.Name()]; ok {
			d.used -= len(old.data)
		}
		d.files[ent.Name()] = &entry{data: raw, created: mod, modified: mod}
		d.used += len(raw)
	}
	return nil
}

// PersistTo writes dirty files to the host directory dir, creating it if
// needed, and removes host copies of deleted files. Names that fail to
// write stay dirty. It returns the first error.
func (d *Disk) PersistTo(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Snapshot under the lock, do the I/O without it.
	d.mu.Lock()
	writes := make(map[string]entry)
	var removes []string
	for name := range d.dirty {
		if e, ok := d.files[name]; ok {
			writes[name] = entry{data: append([]byte(nil), e.data...), modified: e.modified}
		} else {
			removes = append(removes, name)
		}
	}
	d.dirty = make(map[string]bool)
	d.mu.Unlock()

	var first error
	keep := func(name string, err error) {
		d.mu.Lock()
		d.dirty[name] = true
		d.mu.Unlock()
		if first == nil {
			first = err
		}
	}
	for _, name := range removes {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			keep(name, err)
		}
	}
	for name, e := range writes {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, e.data, 0o644); err != nil {
			keep(name, err)
			continue
		}
		_ = os.Chtimes(path, time.Now(), e.modified)
	}
	return first
}

// Sync persists d to dir every interval until ctx is done, then once more.
// Errors are logged and retried on the next tick.
func (d *Disk) Sync(ctx context.Context, dir string, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := d.PersistTo(dir); err != nil {
				log.Error("final disk sync failed", "dir", dir, "err", err)
			}
			return
		case <-tick.C:
			if !d.Dirty() {
				continue
			}
			if err := d.PersistTo(dir); err != nil {
				log.Warn("disk sync failed", "dir", dir, "err", err)
				continue
			}
			log.Debug("disk synced", "dir", dir)
		}
	}
}
