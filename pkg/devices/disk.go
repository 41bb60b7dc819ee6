package devices

import (
	"errors"
	"sync"

	"triton/pkg/vfs"
)

// Disk registers.
const (
	DiskCommand = 0x00 // write: run a command
	DiskData    = 0x08 // read/write: command argument or result
	DiskStatus  = 0x10 // read: status of the last command
	DiskSize    = 0x18 // read: size of the open file
)

// Disk commands.
const (
	CmdClearName  = 1 // empty the name buffer
	CmdAppendName = 2 // append the data byte to the name
	CmdOpenRead   = 3 // load the named file for reading
	CmdReadByte   = 4 // next byte into data, StatusEOF at the end
	CmdBeginWrite = 5 // start an empty write buffer
	CmdWriteByte  = 6 // append the data byte to the write buffer
	CmdCommit     = 7 // store the write buffer under the name
	CmdDelete     = 8 // delete the named file
	CmdFree       = 9 // free space into data
)

// Disk status codes.
const (
	StatusOK = iota
	StatusNotFound
	StatusInvalidName
	StatusQuota
	StatusNoFile
	StatusEOF
)

// maxNameLen caps the name buffer; longer names can never be valid.
const maxNameLen = 32

// Disk exposes a vfs.Disk one byte at a time.
type Disk struct {
	window
	mu      sync.Mutex
	fs      *vfs.Disk
	name    []byte
	data    uint64
	status  uint64
	reading []byte
	rpos    int
	open    bool
	writing []byte
	pending bool
}

func NewDisk(base uint64, fs *vfs.Disk) *Disk {
	return &Disk{window: window{name: "disk", base: base}, fs: fs}
}

// FS returns the backing store.
func (d *Disk) FS() *vfs.Disk { return d.fs }

func (d *Disk) Read(offset uint64, width int) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case DiskData:
		return d.data
	case DiskStatus:
		return d.status
	case DiskSize:
		return uint64(len(d.reading))
	}
	return 0
}

func (d *Disk) Write(offset uint64, width int, v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case DiskData:
		d.data = v
	case DiskCommand:
		d.status = d.run(v)
	}
}

func (d *Disk) run(cmd uint64) uint64 {
	switch cmd {
	case CmdClearName:
		d.name = d.name[:0]
	case CmdAppendName:
		if len(d.name) >= maxNameLen {
			return StatusInvalidName
		}
		d.name = append(d.name, byte(d.data))
	case CmdOpenRead:
		data, err := d.fs.Read(string(d.name))
		if err != nil {
			d.open = false
			return statusOf(err)
		}
		d.reading, d.rpos, d.open = data, 0, true
	case CmdReadByte:
		if !d.open {
			return StatusNoFile
		}
		if d.rpos >= len(d.reading) {
			return StatusEOF
		}
		d.data = uint64(d.reading[d.rpos])
		d.rpos++
	case CmdBeginWrite:
		if !vfs.ValidName(string(d.name)) {
			return StatusInvalidName
		}
		d.writing, d.pending = d.writing[:0], true
	case CmdWriteByte:
		if !d.pending {
			return StatusNoFile
		}
		d.writing = append(d.writing, byte(d.data))
	case CmdCommit:
		if !d.pending {
			return StatusNoFile
		}
		d.pending = false
		return statusOf(d.fs.Write(string(d.name), d.writing))
	case CmdDelete:
		return statusOf(d.fs.Delete(string(d.name)))
	case CmdFree:
		d.data = uint64(d.fs.Free())
	default:
		return StatusInvalidName
	}
	return StatusOK
}

func statusOf(err error) uint64 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, vfs.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, vfs.ErrInvalidName):
		return StatusInvalidName
	case errors.Is(err, vfs.ErrQuota):
		return StatusQuota
	}
	return StatusNotFound
}
