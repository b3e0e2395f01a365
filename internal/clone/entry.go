package clone

import (
	"fmt"
	"time"
)

// Kind is the file type of an Entry.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindCharDevice
	KindBlockDevice
	KindFIFO
	KindSocket
)

var kindNames = map[Kind]string{
	KindRegular:     "regular",
	KindDirectory:   "directory",
	KindSymlink:     "symlink",
	KindCharDevice:  "char-device",
	KindBlockDevice: "block-device",
	KindFIFO:        "fifo",
	KindSocket:      "socket",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Entry describes one filesystem object found while scanning the source
// tree. Entries are immutable once the scan is complete.
type Entry struct {
	Rel    string // path relative to the roots
	Source string
	Target string
	Kind   Kind
	Mode   uint32 // permission bits including setuid, setgid and sticky
	UID    int
	GID    int
	Size   int64
	Atime  time.Time
	Mtime  time.Time
	Rdev   uint64
}

// CopyError is an I/O failure while cloning. It aborts the run.
type CopyError struct {
	Path string
	Op   string
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("clone %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }
