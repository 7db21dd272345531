//go:build unix

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir is where named segments live. /dev/shm is tmpfs on Linux; other
// Unix systems fall back to the temp directory.
func shmDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SegmentPath returns the file backing the named segment.
func SegmentPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
		return "", fmt.Errorf("shm: invalid segment name %q", name)
	}
	return filepath.Join(shmDir(), "sunbeam-"+name), nil
}

// Create creates (or truncates) the named segment with the given layout.
func Create(name string, layout Layout) (*Segment, error) {
	path, err := SegmentPath(name)
	if err != nil {
		return nil, err
	}
	s, err := CreateFile(path, layout)
	if err != nil {
		return nil, err
	}
	s.name = name
	return s, nil
}

// Open attaches to a named segment created by another process. The layout
// is read from the segment header.
func Open(name string) (*Segment, error) {
	path, err := SegmentPath(name)
	if err != nil {
		return nil, err
	}
	s, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	s.name = name
	return s, nil
}

// Remove unlinks the named segment. Existing mappings stay valid.
func Remove(name string) error {
	path, err := SegmentPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: remove %s: %w", path, err)
	}
	return nil
}

// CreateFile creates a segment backed by the file at path.
func CreateFile(path string, layout Layout) (*Segment, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	size := layout.Size()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("shm: size %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	format(mem, layout)
	s, err := attach(path, mem, func() error { return unix.Munmap(mem) })
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return s, nil
}

// OpenFile attaches to a segment backed by the file at path.
func OpenFile(path string) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if fi.Size() < headerSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrBadSegment, path, fi.Size())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	s, err := attach(path, mem, func() error { return unix.Munmap(mem) })
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return s, nil
}
