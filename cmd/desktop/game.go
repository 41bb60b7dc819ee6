package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"

	"triton/pkg/cpu"
	"triton/pkg/grid"
	"triton/pkg/isa"
	"triton/pkg/machine"
)

const (
	scale      = 2
	regCols    = 4
	lineHeight = 14
	cellWidth  = 157
	overlayPad = 6
)

var (
	screenW = machine.ScreenWidth * scale
	screenH = machine.ScreenHeight * scale
	// one row for the status line
	overlayH = (grid.Rows(isa.NumRegisters, regCols)+1)*lineHeight + 2*overlayPad
)

type Game struct {
	m             *machine.Machine
	stepsPerFrame int
	shotDir       string
	log           *slog.Logger

	fbImg    *ebiten.Image // reused framebuffer canvas
	face     text.Face
	showRegs bool
	err      error
}

func newGame(m *machine.Machine, stepsPerFrame int, shotDir string, log *slog.Logger) *Game {
	return &Game{
		m:             m,
		stepsPerFrame: stepsPerFrame,
		shotDir:       shotDir,
		log:           log,
		face:          text.NewGoXFace(basicfont.Face7x13),
		showRegs:      true,
	}
}

func (g *Game) Update() error {
	for _, r := range ebiten.AppendInputChars(nil) {
		g.pushKey(r)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		g.pushKey('\n')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.pushKey(8)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		g.showRegs = !g.showRegs
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		g.screenshot()
	}
	g.step()
	return nil
}

// pushKey queues an ASCII key. Other runes, and keys arriving while the
// buffer is full, are dropped.
func (g *Game) pushKey(r rune) bool {
	if r < 0 || r > 0x7F {
		return false
	}
	return g.m.Devices.Keyboard.Push(byte(r))
}

// step runs one frame's worth of instructions.
func (g *Game) step() {
	if g.m.CPU.Stopped() {
		return
	}
	if _, err := g.m.CPU.RunSteps(g.stepsPerFrame); err != nil {
		g.err = err
	}
	if g.m.CPU.Stopped() {
		g.log.Info("cpu stopped", "state", g.m.CPU.State(), "steps", g.m.CPU.Steps(), "result", g.m.Result())
	}
}

func (g *Game) screenshot() {
	path := filepath.Join(g.shotDir, fmt.Sprintf("triton-%s.png", time.Now().Format("20060102-150405")))
	if err := g.m.SaveScreenshot(path); err != nil {
		g.log.Error("screenshot failed", "err", err)
		return
	}
	g.log.Info("screenshot saved", "path", path)
}

// status is the overlay's first line.
func (g *Game) status() string {
	c := g.m.CPU
	switch c.State() {
	case cpu.Running:
		return fmt.Sprintf("running  pc=%#x  steps=%d  keys=%d", c.PC, c.Steps(), g.m.Devices.Keyboard.Pending())
	case cpu.Halted:
		return fmt.Sprintf("halted  result=%d  steps=%d", g.m.Result(), c.Steps())
	}
	if g.err != nil {
		return fmt.Sprintf("%s: %v", c.State(), g.err)
	}
	return fmt.Sprintf("%s  pc=%#x", c.State(), c.PC)
}

// registerCells renders one overlay cell per register.
func registerCells(c *cpu.CPU) []string {
	cells := make([]string, isa.NumRegisters)
	for i := range cells {
		cells[i] = fmt.Sprintf("%-3s %016x", isa.RegisterName(i), c.Regs[i])
	}
	return cells
}

func (g *Game) drawFramebuffer(screen *ebiten.Image) {
	if g.fbImg == nil {
		g.fbImg = ebiten.NewImage(machine.ScreenWidth, machine.ScreenHeight)
	}
	pixels, err := g.m.FramebufferRGBA()
	if err != nil {
		return
	}
	g.fbImg.WritePixels(pixels)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	screen.DrawImage(g.fbImg, op)
}

func (g *Game) drawText(screen *ebiten.Image, s string, x, y int) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	text.Draw(screen, s, g.face, op)
}

func (g *Game) Draw(screen *ebiten.Image) {
	g.drawFramebuffer(screen)
	if !g.showRegs {
		return
	}
	top := screenH + overlayPad
	g.drawText(screen, g.status(), overlayPad, top)
	for i, cell := range registerCells(g.m.CPU) {
		x, y := grid.GetGridCoords(i, regCols)
		g.drawText(screen, cell, overlayPad+x*cellWidth, top+(y+1)*lineHeight)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if !g.showRegs {
		return screenW, screenH
	}
	return screenW, screenH + overlayH
}
