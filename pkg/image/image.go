// Package image is the on-disk format for assembled Triton-64 programs.
//
// Layout, little-endian:
//
//	0   magic "T64I"
//	4   version (uint16), reserved (uint16)
//	8   origin (uint64)
//	16  word count (uint32)
//	20  xxhash64 of the payload (uint64)
//	28  payload: word count × uint32
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

const (
	Magic      = "T64I"
	Version    = 1
	headerSize = 28

	// maxWords bounds the payload a header may announce.
	maxWords = 1 << 26
)

var (
	ErrBadMagic  = errors.New("not a program image")
	ErrVersion   = errors.New("unsupported image version")
	ErrChecksum  = errors.New("image checksum mismatch")
	ErrTruncated = errors.New("image truncated")
	ErrOversized = errors.New("image too large")
)

// Image is a program ready to load at Origin.
type Image struct {
	Origin uint64
	Words  []uint32
}

func payload(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// Encode writes img to w.
func Encode(w io.Writer, img Image) error {
	if len(img.Words) > maxWords {
		return ErrOversized
	}
	body := payload(img.Words)
	var hdr [headerSize]byte
	copy(hdr[:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:], Version)
	binary.LittleEndian.PutUint64(hdr[8:], img.Origin)
	binary.LittleEndian.PutUint32(hdr[16:], uint32(len(img.Words)))
	binary.LittleEndian.PutUint64(hdr[20:], xxhash.Sum64(body))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Decode reads an image from r and verifies its checksum.
func Decode(r io.Reader) (Image, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Image{}, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	if string(hdr[:4]) != Magic {
		return Image{}, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != Version {
		return Image{}, fmt.Errorf("%w %d", ErrVersion, v)
	}
	origin := binary.LittleEndian.Uint64(hdr[8:])
	n := binary.LittleEndian.Uint32(hdr[16:])
	sum := binary.LittleEndian.Uint64(hdr[20:])
	if n > maxWords {
		return Image{}, fmt.Errorf("%w: %d words", ErrOversized, n)
	}

	body := make([]byte, 4*int(n))
	if _, err := io.ReadFull(r, body); err != nil {
		return Image{}, fmt.Errorf("%w: payload: %v", ErrTruncated, err)
	}
	if xxhash.Sum64(body) != sum {
		return Image{}, ErrChecksum
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(body[4*i:])
	}
	return Image{Origin: origin, Words: words}, nil
}

func WriteFile(path string, img Image) error {
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func ReadFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, err
	}
	defer f.Close()
	return Decode(f)
}
