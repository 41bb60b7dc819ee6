package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDisk_Write(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		wantErr  error
		wantUsed int
	}{
		{"Valid write", "test.txt", []byte{1, 2, 3}, nil, 3},
		{"Hidden file", ".cfg", []byte{1}, nil, 1},
		{"Invalid special chars", "test!.txt", []byte{1}, ErrInvalidName, 0},
		{"Invalid too long", "verylongfilename.txt", []byte{1}, ErrInvalidName, 0},
		{"Invalid path traversal", "../passwd", []byte{1}, ErrInvalidName, 0},
		{"Quota exceeded", "big.bin", make([]byte, DefaultQuota+1), ErrQuota, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(0)
			err := d.Write(tt.filename, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Write() error = %v, want %v", err, tt.wantErr)
			}
			if d.Used() != tt.wantUsed {
				t.Errorf("Used() = %d, want %d", d.Used(), tt.wantUsed)
			}
			if tt.wantErr != nil {
				return
			}
			got, err := d.Read(tt.filename)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if diff := cmp.Diff(tt.data, got); diff != "" {
				t.Errorf("contents mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDisk_ReadErrors(t *testing.T) {
	d := New(0)
	if _, err := d.Read("missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file: got %v", err)
	}
	if _, err := d.Read("a/b"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("bad name: got %v", err)
	}
	if _, err := d.Stat("missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat missing: got %v", err)
	}
}

func TestDisk_OverwriteAdjustsUsage(t *testing.T) {
	d := New(100)
	if err := d.Write("a.txt", make([]byte, 60)); err != nil {
		t.Fatal(err)
	}
	// Replacing a 60 byte file with 90 bytes fits in a 100 byte quota.
	if err := d.Write("a.txt", make([]byte, 90)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if d.Used() != 90 || d.Free() != 10 {
		t.Errorf("used=%d free=%d, want 90 and 10", d.Used(), d.Free())
	}
	if err := d.Write("b.txt", make([]byte, 11)); !errors.Is(err, ErrQuota) {
		t.Errorf("expected quota error, got %v", err)
	}
	if err := d.Write("b.txt", make([]byte, 10)); err != nil {
		t.Errorf("exact fit: %v", err)
	}
	info, err := d.Stat("a.txt")
	if err != nil || info.Size != 90 {
		t.Errorf("Stat = %+v, %v", info, err)
	}
}

func TestDisk_CopiesData(t *testing.T) {
	d := New(0)
	buf := []byte("hello")
	if err := d.Write("h.txt", buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'j'
	got, _ := d.Read("h.txt")
	got[1] = 'a'
	again, _ := d.Read("h.txt")
	if string(again) != "hello" {
		t.Errorf("stored data changed to %q", again)
	}
}

func TestDisk_Delete(t *testing.T) {
	d := New(0)
	_ = d.Write("a.txt", []byte("abc"))
	if err := d.Delete("a.txt"); err != nil {
		t.Fatal(err)
	}
	if d.Used() != 0 {
		t.Errorf("Used() = %d after delete", d.Used())
	}
	if err := d.Delete("a.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if len(d.List()) != 0 {
		t.Errorf("List() = %v", d.List())
	}
}

func TestDisk_Persistence(t *testing.T) {
	dir := t.TempDir()
	d := New(0)
	_ = d.Write("keep.txt", []byte("keep"))
	_ = d.Write("gone.txt", []byte("gone"))
	if !d.Dirty() {
		t.Fatal("disk should be dirty after writes")
	}
	if err := d.PersistTo(dir); err != nil {
		t.Fatalf("PersistTo: %v", err)
	}
	if d.Dirty() {
		t.Error("disk still dirty after persist")
	}

	_ = d.Delete("gone.txt")
	if err := d.PersistTo(dir); err != nil {
		t.Fatalf("PersistTo: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.txt")); !os.IsNotExist(err) {
		t.Errorf("deleted file still on host: %v", err)
	}

	// Files with names the disk cannot hold are ignored on load.
	if err := os.WriteFile(filepath.Join(dir, "not valid name.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := New(0)
	if err := loaded.LoadFrom(dir); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if diff := cmp.Diff([]string{"keep.txt"}, loaded.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
	if got, _ := loaded.Read("keep.txt"); string(got) != "keep" {
		t.Errorf("loaded contents %q", got)
	}
	if loaded.Dirty() {
		t.Error("freshly loaded disk should be clean")
	}
	if loaded.Used() != 4 {
		t.Errorf("Used() = %d, want 4", loaded.Used())
	}
}

func TestDisk_LoadFromMissingDir(t *testing.T) {
	d := New(0)
	if err := d.LoadFrom(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("missing dir should not be an error: %v", err)
	}
}

func TestDisk_SyncFlushesOnCancel(t *testing.T) {
	dir := t.TempDir()
	d := New(0)
	_ = d.Write("a.txt", []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Sync(ctx, dir, time.Hour, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Errorf("file not flushed: %v", err)
	}
}
