// Command desktop runs a program in a window showing the framebuffer, with
// the keyboard wired to the keyboard device and a register overlay (F1).
// F12 saves a screenshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"

	"triton/pkg/asm"
	"triton/pkg/compiler"
	"triton/pkg/config"
	"triton/pkg/image"
	"triton/pkg/machine"
	"triton/pkg/utils"
	"triton/pkg/vfs"
)

func main() {
	cfg := config.NewConfig()
	showAsm := flag.Bool("show-asm", false, "print the generated assembly")
	steps := flag.Int("steps", 100000, "instructions executed per frame")
	flag.StringVar(&cfg.Storage, "storage", "", "host directory for the virtual disk (default: <name>_vfs beside the source)")
	flag.StringVar(&cfg.LibDir, "lib", "", "directory of extra TriC libraries")
	flag.BoolVar(&cfg.Verbose, "v", false, "debug logging")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: desktop [flags] <file.tc|file.asm|file"+config.ImageExt+">")
		os.Exit(2)
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

	img, err := build(cfg, *showAsm)
	if err != nil {
		log.Fatal(err)
	}

	disk := vfs.New(cfg.DiskQuota)
	if err := disk.LoadFrom(cfg.Storage); err != nil {
		log.Fatalf("Failed to load storage %s: %v", cfg.Storage, err)
	}
	// Console output has no place in the window; it goes to stdout.
	m, err := machine.New(cfg.Machine(os.Stdout, disk, logger))
	if err != nil {
		log.Fatal(err)
	}
	if err := m.LoadWords(img.Origin, img.Words); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		disk.Sync(ctx, cfg.Storage, cfg.SyncInterval, logger)
	}()

	game := newGame(m, *steps, baseDir, logger)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(game.Layout(0, 0))
	ebiten.SetWindowTitle("Triton-64 - " + filepath.Base(fullPath))
	runErr := ebiten.RunGame(game)

	// stop the timer and do a final flush
	cancel()
	<-syncDone
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func build(cfg *config.Config, showAsm bool) (image.Image, error) {
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
		if err != nil {
			return image.Image{}, fmt.Errorf("compilation failed: %w", err)
		}
		if showAsm {
			fmt.Print("Generated Assembly:\n", out.Assembly, "\n")
		}
		prog = out.Program
	} else if prog, err = asm.Assemble(string(source)); err != nil {
		return image.Image{}, fmt.Errorf("assembly failed: %w", err)
	}
	return image.Image{Origin: prog.Origin, Words: prog.Words}, nil
}
