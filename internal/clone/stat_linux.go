package clone

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

func statEntry(path string) (Entry, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Entry{}, err
	}
	e := Entry{
		Mode:  st.Mode & 0o7777,
		UID:   int(st.Uid),
		GID:   int(st.Gid),
		Size:  st.Size,
		Atime: time.Unix(st.Atim.Unix()),
		Mtime: time.Unix(st.Mtim.Unix()),
		Rdev:  uint64(st.Rdev),
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		e.Kind = KindDirectory
	case unix.S_IFLNK:
		e.Kind = KindSymlink
	case unix.S_IFCHR:
		e.Kind = KindCharDevice
	case unix.S_IFBLK:
		e.Kind = KindBlockDevice
	case unix.S_IFIFO:
		e.Kind = KindFIFO
	case unix.S_IFSOCK:
		e.Kind = KindSocket
	default:
		e.Kind = KindRegular
	}
	return e, nil
}

// lexists reports whether path exists without following a final symlink.
func lexists(path string) (bool, error) {
	var st unix.Stat_t
	err := unix.Lstat(path, &st)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	return false, err
}

func isDir(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFDIR
}

func mkdir(path string, mode uint32) error {
	return unix.Mkdir(path, mode)
}

func mknod(e Entry) error {
	var typ uint32
	switch e.Kind {
	case KindCharDevice:
		typ = unix.S_IFCHR
	case KindBlockDevice:
		typ = unix.S_IFBLK
	case KindFIFO:
		typ = unix.S_IFIFO
	case KindSocket:
		typ = unix.S_IFSOCK
	}
	return unix.Mknod(e.Target, typ|e.Mode, int(e.Rdev))
}

// applyOwnership sets owner, mode and (except for directories) times.
func applyOwnership(e Entry) error {
	if err := unix.Lchown(e.Target, e.UID, e.GID); err != nil {
		return &CopyError{Path: e.Target, Op: "lchown", Err: err}
	}
	if e.Kind != KindSymlink {
		if err := unix.Chmod(e.Target, e.Mode); err != nil {
			return &CopyError{Path: e.Target, Op: "chmod", Err: err}
		}
	}
	if e.Kind != KindDirectory {
		return applyTimes(e.Target, e.Atime, e.Mtime)
	}
	return nil
}

func applyTimes(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &CopyError{Path: path, Op: "utimes", Err: err}
	}
	return nil
}

func setUmask(mask int) int {
	return unix.Umask(mask)
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
