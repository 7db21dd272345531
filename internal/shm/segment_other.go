//go:build !unix

package shm

import "errors"

var errUnsupported = errors.New("shm: named segments are not supported on this platform")

// SegmentPath is unsupported on this platform.
func SegmentPath(name string) (string, error) { return "", errUnsupported }

// Create is unsupported on this platform.
func Create(name string, layout Layout) (*Segment, error) { return nil, errUnsupported }

// Open is unsupported on this platform.
func Open(name string) (*Segment, error) { return nil, errUnsupported }

// Remove is unsupported on this platform.
func Remove(name string) error { return errUnsupported }

// CreateFile is unsupported on this platform.
func CreateFile(path string, layout Layout) (*Segment, error) { return nil, errUnsupported }

// OpenFile is unsupported on this platform.
func OpenFile(path string) (*Segment, error) { return nil, errUnsupported }
