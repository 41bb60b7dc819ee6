//go:build !js

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"

	"triton/pkg/asm"
	"triton/pkg/compiler"
	"triton/pkg/config"
	"triton/pkg/cpu"
	"triton/pkg/image"
	"triton/pkg/machine"
	"triton/pkg/vfs"
)

func main() {
	cfg := config.NewConfig()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.Input == "" && cfg.RunBinary == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in to build, -run to run the result, or -run-bin <file> to run an existing image")
		flag.Usage()
		os.Exit(2)
	}
	log := cfg.Logger(os.Stderr)

	runTarget := cfg.RunBinary
	if cfg.Input != "" {
		out, err := build(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		runTarget = ""
		if cfg.Run {
			runTarget = out
		}
	}
	if runTarget == "" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	code, err := runImage(ctx, cfg, runTarget, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed for %q: %v\n", runTarget, err)
	}
	os.Exit(code)
}

// build compiles or assembles cfg.Input and writes the image. It returns the
// image path.
func build(cfg *config.Config) (string, error) {
	source, err := os.ReadFile(cfg.Input)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %q: %w", cfg.Input, err)
	}

	var prog *asm.Program
	if cfg.IsTriC() {
		out, err := compiler.CompileWith(string(source), cfg.CompileOptions())
		if err != nil {
			return "", fmt.Errorf("compilation failed: %w", err)
		}
		prog = out.Program
	} else {
		prog, err = asm.Assemble(string(source))
		if err != nil {
			return "", fmt.Errorf("assembly failed: %w", err)
		}
	}

	output := cfg.OutputPath()
	if err := image.WriteFile(output, image.Image{Origin: prog.Origin, Words: prog.Words}); err != nil {
		return "", fmt.Errorf("failed to write image %q: %w", output, err)
	}
	fmt.Printf("built %s (%d words) at %#x -> %s\n",
		humanize.IBytes(uint64(4*len(prog.Words))), len(prog.Words), prog.Origin, output)
	return output, nil
}

// runImage boots path on a fresh machine and returns the process exit code:
// the low byte of main's result, or 1 when the CPU did not halt.
func runImage(ctx context.Context, cfg *config.Config, path string, log *slog.Logger) (int, error) {
	img, err := image.ReadFile(path)
	if err != nil {
		return 1, err
	}

	disk := vfs.New(cfg.DiskQuota)
	if cfg.Storage != "" {
		if err := disk.LoadFrom(cfg.Storage); err != nil {
			return 1, fmt.Errorf("load storage: %w", err)
		}
	}

	m, err := machine.New(cfg.Machine(os.Stdout, disk, log))
	if err != nil {
		return 1, err
	}
	if err := m.LoadWords(img.Origin, img.Words); err != nil {
		return 1, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.Start(ctx)

	state, runErr := m.Run(ctx)
	if cfg.Storage != "" {
		if err := disk.PersistTo(cfg.Storage); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("persist storage: %w", err))
		}
	}

	fmt.Printf("run complete (%s): %s after %s steps, result=%d pc=%#x\n",
		path, state, humanize.Comma(int64(m.CPU.Steps())), m.Result(), m.CPU.PC)
	if state != cpu.Halted {
		return 1, runErr
	}
	return int(m.Result() & 0xFF), runErr
}
