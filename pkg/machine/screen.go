package machine

import (
	"image"
	"image/png"
	"os"
)

// The screen is the first ScreenWidth*ScreenHeight int cells of the
// framebuffer region, one 0x00RRGGBB pixel per cell, row-major.
const (
	ScreenWidth  = 320
	ScreenHeight = 240
)

// xrgbToRGBA splits a framebuffer pixel into opaque RGBA bytes.
func xrgbToRGBA(p []byte) (r, g, b, a byte) {
	return p[2], p[1], p[0], 0xFF
}

// FramebufferRGBA decodes the screen into an RGBA8888 byte slice of
// ScreenWidth*ScreenHeight*4 bytes.
func (m *Machine) FramebufferRGBA() ([]byte, error) {
	raw, err := m.Mem.ReadBlock(m.layout.FBBase, ScreenWidth*ScreenHeight*4)
	if err != nil {
		return nil, err
	}
	pixels := make([]byte, len(raw))
	for i := 0; i < len(raw); i += 4 {
		pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = xrgbToRGBA(raw[i : i+4])
	}
	return pixels, nil
}

// FramebufferImage returns the screen as an *image.RGBA.
func (m *Machine) FramebufferImage() (*image.RGBA, error) {
	pix, err := m.FramebufferRGBA()
	if err != nil {
		return nil, err
	}
	return &image.RGBA{
		Pix:    pix,
		Stride: ScreenWidth * 4,
		Rect:   image.Rect(0, 0, ScreenWidth, ScreenHeight),
	}, nil
}

// SaveScreenshot encodes the screen as a PNG and writes it to filename.
func (m *Machine) SaveScreenshot(filename string) error {
	img, err := m.FramebufferImage()
	if err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
