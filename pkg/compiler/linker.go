package compiler

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

//go:embed lib/*.tc
var libFS embed.FS

// LibraryExt is the file extension of TriC library sources.
const LibraryExt = ".tc"

// LibraryStore resolves an imported library name to its source text.
type LibraryStore interface {
	Library(name string) (string, error)
}

type embeddedStore struct{}

// EmbeddedLibraries serves the libraries compiled into the binary
// (io, mem, sys, disk).
func EmbeddedLibraries() LibraryStore { return embeddedStore{} }

func (embeddedStore) Library(name string) (string, error) {
	data, err := libFS.ReadFile("lib/" + name + LibraryExt)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w %s", ErrUnknownLibrary, name)
	}
	return string(data), err
}

// DirStore reads <dir>/<name>.tc from the host file system.
type DirStore string

func (d DirStore) Library(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(string(d), name+LibraryExt))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w %s", ErrUnknownLibrary, name)
	}
	return string(data), err
}

// ChainStore tries each store in turn and returns the first hit.
type ChainStore []LibraryStore

func (c ChainStore) Library(name string) (string, error) {
	for _, s := range c {
		src, err := s.Library(name)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, ErrUnknownLibrary) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w %s", ErrUnknownLibrary, name)
}

// Link resolves "import name" lines: each line is blanked and the named
// library's source is prepended, once per name, in import order. Inclusion is
// flat: imports inside a library are blanked but not followed, and there is
// no cycle detection.
func Link(src string, store LibraryStore) (string, error) {
	out, _, err := link(src, store)
	return out, err
}

// link also reports how many lines the prepended libraries occupy, so
// positions can be mapped back to the user's source.
func link(src string, store LibraryStore) (string, int, error) {
	body, names, err := stripImports(src)
	if err != nil {
		return "", 0, err
	}
	if len(names) == 0 {
		return src, 0, nil
	}
	if store == nil {
		store = EmbeddedLibraries()
	}

	var b strings.Builder
	for _, name := range lo.Uniq(names) {
		lib, err := store.Library(name)
		if err != nil {
			return "", 0, &Error{Stage: StageLink, Msg: err.Error(), Err: err}
		}
		libBody, _, err := stripImports(lib)
		if err != nil {
			return "", 0, err
		}
		b.WriteString(libBody)
		if !strings.HasSuffix(libBody, "\n") {
			b.WriteString("\n")
		}
	}
	prefix := b.String()
	return prefix + body, strings.Count(prefix, "\n"), nil
}

// stripImports blanks import lines, keeping the line count, and returns the
// imported names.
func stripImports(src string) (string, []string, error) {
	lines := strings.Split(src, "\n")
	var names []string
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "import" {
			continue
		}
		if len(fields) != 2 {
			return "", nil, errorf(StageLink, lines, i+1, "malformed import; expected: import name")
		}
		name := strings.TrimSuffix(fields[1], ";")
		if !isLibraryName(name) {
			return "", nil, errorf(StageLink, lines, i+1, "invalid library name %q", name)
		}
		names = append(names, name)
		lines[i] = ""
	}
	return strings.Join(lines, "\n"), names, nil
}

func isLibraryName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
