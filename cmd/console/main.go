// Command console builds a program and runs it interactively: console output
// goes to the terminal, keystrokes feed the keyboard device and the virtual
// disk is synced to a host directory while the program runs.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"triton/pkg/asm"
	"triton/pkg/compiler"
	"triton/pkg/config"
	"triton/pkg/cpu"
	"triton/pkg/devices"
	"triton/pkg/image"
	"triton/pkg/machine"
	"triton/pkg/utils"
	"triton/pkg/vfs"
)

const ctrlC = 0x03

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.NewConfig()
	showAsm := flag.Bool("show-asm", false, "print the generated assembly before running")
	showRegs := flag.Bool("regs", false, "dump the registers when the program stops")
	snapshot := flag.String("snapshot", "", "save a snapshot here if the run is interrupted")
	resume := flag.String("resume", "", "resume from a snapshot instead of booting the program")
	flag.StringVar(&cfg.Storage, "storage", "", "host directory for the virtual disk (default: <name>_vfs beside the source)")
	flag.StringVar(&cfg.LibDir, "lib", "", "directory of extra TriC libraries")
	flag.IntVar(&cfg.NopLimit, "nop-limit", cfg.NopLimit, "consecutive NOPs treated as runaway execution (0 disables)")
	flag.BoolVar(&cfg.Verbose, "v", false, "debug logging")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: console [flags] <file.tc|file.asm|file"+config.ImageExt+">")
		flag.PrintDefaults()
		return 2
	}

	fullPath, baseDir, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", flag.Arg(0), err)
	}
	cfg.Input = fullPath
	if cfg.Storage == "" {
		cfg.Storage = utils.StorageFor(fullPath)
	}
	logger := cfg.Logger(os.Stderr)
	logger.Debug("console", "source", fullPath, "dir", baseDir, "storage", cfg.Storage)

	img, err := load(cfg, *showAsm)
	if err != nil {
		log.Fatal(err)
	}

	disk := vfs.New(cfg.DiskQuota)
	if err := disk.LoadFrom(cfg.Storage); err != nil {
		log.Fatalf("Failed to load storage %s: %v", cfg.Storage, err)
	}

	out := io.Writer(os.Stdout)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, old)
			out = crlfWriter{os.Stdout}
		}
	}

	m, err := machine.New(cfg.Machine(out, disk, logger))
	if err == nil {
		err = m.LoadWords(img.Origin, img.Words)
	}
	if err == nil && *resume != "" {
		if err = m.RestoreFile(*resume); err != nil {
			err = fmt.Errorf("failed to resume %s: %w", *resume, err)
		}
	}
	if err != nil {
		fmt.Fprintln(out, err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go feedKeyboard(os.Stdin, m.Devices.Keyboard, cancel)

	syncDone := make(chan struct{})
	syncCtx, stopSync := context.WithCancel(context.Background())
	go func() {
		defer close(syncDone)
		disk.Sync(syncCtx, cfg.Storage, cfg.SyncInterval, logger)
	}()

	m.Start(ctx)
	state, runErr := m.Run(ctx)
	stopSync()
	<-syncDone

	if state == cpu.Running && *snapshot != "" {
		if err := m.SaveFile(*snapshot); err != nil {
			logger.Error("snapshot failed", "path", *snapshot, "err", err)
		} else {
			logger.Info("snapshot saved", "path", *snapshot)
		}
	}
	report(out, m, state, runErr, *showRegs, fd)
	if state != cpu.Halted {
		return 1
	}
	return 0
}

// load returns the program image for cfg.Input, compiling or assembling
// source files.
func load(cfg *config.Config, showAsm bool) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(cfg.Input), config.ImageExt) {
		return image.ReadFile(cfg.Input)
	}
	source, err := os.ReadFile(cfg.Input)
	if err != nil {
		return image.Image{}, fmt.Errorf("failed to read source file: %w", err)
	}

	var prog *asm.Program
	if cfg.IsTriC() {
		out, err := compiler.CompileWith(string(source), cfg.CompileOptions())
		if showAsm && out.Assembly != "" {
			fmt.Print("Generated Assembly:\n", out.Assembly, "\n")
		}
		if err != nil {
			return image.Image{}, fmt.Errorf("compilation failed: %w", err)
		}
		prog = out.Program
	} else {
		prog, err = asm.Assemble(string(source))
		if err != nil {
			return image.Image{}, fmt.Errorf("assembly failed: %w", err)
		}
	}
	return image.Image{Origin: prog.Origin, Words: prog.Words}, nil
}

// feedKeyboard forwards stdin bytes to the keyboard device. Ctrl-C in raw
// mode stops the run.
func feedKeyboard(r io.Reader, kb *devices.Keyboard, stop context.CancelFunc) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == ctrlC {
				stop()
				return
			}
			if b == '\r' {
				b = '\n'
			}
			if !kb.Push(b) {
				slog.Debug("keyboard buffer full, key dropped", "key", b)
			}
		}
		if err != nil {
			return
		}
	}
}

func report(w io.Writer, m *machine.Machine, state cpu.State, runErr error, regs bool, fd int) {
	fmt.Fprintf(w, "\n[%s] result=%d steps=%s\n", state, m.Result(), humanize.Comma(int64(m.CPU.Steps())))
	if runErr != nil {
		fmt.Fprintf(w, "error: %v\n", runErr)
	}
	fs := m.Devices.Disk.FS()
	fmt.Fprintf(w, "disk: %d files, %s used, %s free\n",
		len(fs.List()), humanize.IBytes(uint64(fs.Used())), humanize.IBytes(uint64(fs.Free())))
	if regs {
		width := 80
		if cols, _, err := term.GetSize(fd); err == nil {
			width = cols
		}
		_ = m.CPU.DumpRegisters(w, cpu.DumpColumns(width))
	}
}

// crlfWriter turns "\n" into "\r\n" for a terminal in raw mode.
type crlfWriter struct{ w io.Writer }

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
