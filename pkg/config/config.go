// Package config holds the settings shared by the command-line tools.
package config

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"triton/pkg/compiler"
	"triton/pkg/cpu"
	"triton/pkg/machine"
	"triton/pkg/memory"
	"triton/pkg/vfs"
)

// ImageExt is the extension of program images.
const ImageExt = ".t64"

type Config struct {
	Input     string // .tc or .asm source
	Output    string // image path; defaults to Input with ImageExt
	Run       bool
	RunBinary string
	Storage   string // host directory behind the virtual disk
	LibDir    string // extra TriC library directory, searched first
	KeepDead  bool

	NopLimit     int
	TickInterval time.Duration
	DiskQuota    int
	SyncInterval time.Duration
	Verbose      bool
}

func NewConfig() *Config {
	return &Config{
		NopLimit:     cpu.DefaultOptions().NopLimit,
		TickInterval: time.Millisecond,
		DiskQuota:    vfs.DefaultQuota,
		SyncInterval: 2 * time.Second,
	}
}

// BindFlags registers the common flags on fs.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Input, "in", c.Input, "input source file (.tc for TriC, anything else is assembly)")
	fs.StringVar(&c.Output, "out", c.Output, "output image path (default: input with "+ImageExt+" extension)")
	fs.BoolVar(&c.Run, "run", c.Run, "run the program after building it")
	fs.StringVar(&c.RunBinary, "run-bin", c.RunBinary, "run an existing program image")
	fs.StringVar(&c.Storage, "storage", c.Storage, "host directory persisted as the virtual disk")
	fs.StringVar(&c.LibDir, "lib", c.LibDir, "directory of extra TriC libraries")
	fs.BoolVar(&c.KeepDead, "keep-dead", c.KeepDead, "keep functions unreachable from main")
	fs.IntVar(&c.NopLimit, "nop-limit", c.NopLimit, "consecutive NOPs treated as runaway execution (0 disables)")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "debug logging")
}

func (c *Config) Validate() error {
	if c.Run && c.RunBinary != "" {
		return errors.New("use either -run or -run-bin, not both")
	}
	if c.Run && c.Input == "" {
		return errors.New("-run requires -in, or use -run-bin <file>")
	}
	if c.NopLimit < 0 {
		return errors.New("-nop-limit must not be negative")
	}
	return nil
}

// IsTriC reports whether the input is TriC source rather than assembly.
func (c *Config) IsTriC() bool {
	return strings.EqualFold(filepath.Ext(c.Input), compiler.LibraryExt)
}

// OutputPath is the image path for the current input.
func (c *Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	ext := filepath.Ext(c.Input)
	return strings.TrimSuffix(c.Input, ext) + ImageExt
}

// Libraries resolves imports from LibDir first, then the embedded set.
func (c *Config) Libraries() compiler.LibraryStore {
	if c.LibDir == "" {
		return compiler.EmbeddedLibraries()
	}
	return compiler.ChainStore{compiler.DirStore(c.LibDir), compiler.EmbeddedLibraries()}
}

func (c *Config) CompileOptions() compiler.Options {
	return compiler.Options{Libraries: c.Libraries(), KeepDead: c.KeepDead}
}

// Machine returns the hardware configuration.
func (c *Config) Machine(console io.Writer, disk *vfs.Disk, log *slog.Logger) machine.Config {
	opts := cpu.DefaultOptions()
	opts.NopLimit = c.NopLimit
	return machine.Config{
		Layout:       memory.DefaultLayout(),
		CPU:          opts,
		Console:      console,
		Disk:         disk,
		TickInterval: c.TickInterval,
		Logger:       log,
	}
}

// Logger returns a text logger on w at Info, or Debug with -v.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
