package machine

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"triton/pkg/cpu"
	"triton/pkg/isa"
	"triton/pkg/memory"
)

// Snapshot archive layout:
//
//	cpu_state.json      registers, pc, run state
//	pages/<hex addr>    every allocated memory page
//	vfs_metadata.json   file times, if a disk is attached
//	vfs/<name>          file contents
const (
	stateEntry   = "cpu_state.json"
	pagePrefix   = "pages/"
	vfsMetaEntry = "vfs_metadata.json"
	vfsPrefix    = "vfs/"
)

var ErrSnapshotLayout = errors.New("snapshot layout does not match machine")

type cpuState struct {
	Regs   [isa.NumRegisters]uint64 `json:"regs"`
	PC     uint64                   `json:"pc"`
	State  string                   `json:"state"`
	Steps  uint64                   `json:"steps"`
	Layout memory.Layout            `json:"layout"`
}

type vfsFile struct {
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Size     int       `json:"size"`
}

type vfsMetadata struct {
	Files []vfsFile `json:"files"`
}

var stateNames = map[string]cpu.State{
	cpu.Running.String():         cpu.Running,
	cpu.Halted.String():          cpu.Halted,
	cpu.RunawayDetected.String(): cpu.RunawayDetected,
	cpu.Faulted.String():         cpu.Faulted,
}

// Save writes a snapshot of the CPU, memory and disk to w.
func (m *Machine) Save(w io.Writer) error {
	zw := zip.NewWriter(w)

	s := m.CPU.Snapshot()
	state := cpuState{Regs: s.Regs, PC: s.PC, State: s.State.String(), Steps: s.Steps, Layout: m.layout}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cpu state: %w", err)
	}
	if err := writeEntry(zw, stateEntry, data); err != nil {
		return err
	}

	err = m.Mem.Pages(func(addr uint64, page []byte) error {
		return writeEntry(zw, fmt.Sprintf("%s%x", pagePrefix, addr), page)
	})
	if err != nil {
		return err
	}

	if d := m.Devices.Disk; d != nil {
		fs := d.FS()
		var meta vfsMetadata
		for _, name := range fs.List() {
			info, err := fs.Stat(name)
			if err != nil {
				return err
			}
			contents, err := fs.Read(name)
			if err != nil {
				return err
			}
			meta.Files = append(meta.Files, vfsFile{Name: name, Created: info.Created, Modified: info.Modified, Size: info.Size})
			if err := writeEntry(zw, vfsPrefix+name, contents); err != nil {
				return err
			}
		}
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal vfs metadata: %w", err)
		}
		if err := writeEntry(zw, vfsMetaEntry, data); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return nil
}

// Restore applies a snapshot produced by Save. The machine must have been
// built with the same layout.
func (m *Machine) Restore(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	raw, err := readEntry(files, stateEntry)
	if err != nil {
		return err
	}
	var state cpuState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("unmarshal cpu state: %w", err)
	}
	if state.Layout != m.layout {
		return ErrSnapshotLayout
	}
	st, ok := stateNames[state.State]
	if !ok {
		return fmt.Errorf("unknown cpu state %q", state.State)
	}

	for name, f := range files {
		hex, ok := strings.CutPrefix(name, pagePrefix)
		if !ok {
			continue
		}
		addr, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return fmt.Errorf("bad page entry %q: %w", name, err)
		}
		page, err := readFile(f)
		if err != nil {
			return err
		}
		if err := m.Mem.RestorePage(addr, page); err != nil {
			return err
		}
	}

	if d := m.Devices.Disk; d != nil {
		if raw, err := readEntry(files, vfsMetaEntry); err == nil {
			var meta vfsMetadata
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("unmarshal vfs metadata: %w", err)
			}
			for _, vf := range meta.Files {
				contents, err := readEntry(files, vfsPrefix+vf.Name)
				if err != nil {
					return fmt.Errorf("restore file %q: %w", vf.Name, err)
				}
				if err := d.FS().Write(vf.Name, contents); err != nil {
					return fmt.Errorf("restore file %q: %w", vf.Name, err)
				}
			}
		}
	}

	m.CPU.Restore(cpu.Snapshot{Regs: state.Regs, PC: state.PC, State: st, Steps: state.Steps})
	m.log.Debug("snapshot restored", "pc", fmt.Sprintf("%#x", state.PC), "state", st)
	return nil
}

func (m *Machine) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (m *Machine) RestoreFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.Restore(data)
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create snapshot entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readEntry(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("snapshot entry %q not found", name)
	}
	return readFile(f)
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open snapshot entry %q: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
