package image

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func encoded(t *testing.T, img Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeDecode(t *testing.T) {
	img := Image{Origin: 0x20000, Words: []uint32{0x30A00005, 0x02000000}}
	data := encoded(t, img)
	if len(data) != headerSize+8 {
		t.Fatalf("encoded %d bytes", len(data))
	}
	got, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := encoded(t, Image{Origin: 0x20000, Words: []uint32{1, 2, 3}})

	corrupt := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", corrupt(func(b []byte) []byte { b[0] = 'X'; return b }), ErrBadMagic},
		{"bad version", corrupt(func(b []byte) []byte { b[4] = 9; return b }), ErrVersion},
		{"flipped payload bit", corrupt(func(b []byte) []byte { b[headerSize] ^= 1; return b }), ErrChecksum},
		{"short payload", good[:len(good)-2], ErrTruncated},
		{"short header", good[:10], ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.t64")
	img := Image{Origin: 0x40000, Words: []uint32{0xdeadbeef}}
	if err := WriteFile(path, img); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Origin != img.Origin || len(got.Words) != 1 || got.Words[0] != 0xdeadbeef {
		t.Errorf("got %+v", got)
	}
}
