// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is the panic value for reading a closed Buffer.
var ErrClosed = errors.New("secret: buffer is closed")

// Buffer is a credential held in its own anonymous mapping. Pass it by
// pointer; copying the struct copies the lock.
type Buffer struct {
	mutex  sync.Mutex
	region []byte
	locked bool
	closed bool
}

// NewFromBytes moves source into a new Buffer, zeroing source whether
// or not the call succeeds.
//
// Pinning the pages with mlock is attempted but optional: unprivileged
// processes with a small RLIMIT_MEMLOCK still get a Buffer, and Locked
// reports false. Excluding the pages from core dumps is required.
func NewFromBytes(source []byte) (*Buffer, error) {
	defer Zero(source)
	if len(source) == 0 {
		return nil, errors.New("secret: empty value")
	}

	region, err := unix.Mmap(-1, 0, len(source),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: allocating region: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: excluding region from core dumps: %w", err)
	}
	buffer := &Buffer{region: region, locked: unix.Mlock(region) == nil}
	copy(buffer.region, source)
	return buffer, nil
}

// String copies the secret onto the heap. Use it only where an API
// demands a string, such as building an Authorization header.
func (b *Buffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		panic(ErrClosed)
	}
	return string(b.region)
}

// Len is the secret's size in bytes, or zero once closed.
func (b *Buffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.region)
}

// Locked reports whether the pages are pinned in RAM.
func (b *Buffer) Locked() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.locked && !b.closed
}

// Close wipes and releases the region. Calling it again does nothing.
func (b *Buffer) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.region)

	var errs []error
	if b.locked {
		if err := unix.Munlock(b.region); err != nil {
			errs = append(errs, fmt.Errorf("secret: munlock: %w", err))
		}
	}
	if err := unix.Munmap(b.region); err != nil {
		errs = append(errs, fmt.Errorf("secret: munmap: %w", err))
	}
	b.region = nil
	return errors.Join(errs...)
}

// Zero overwrites data in place.
func Zero(data []byte) {
	clear(data)
}
