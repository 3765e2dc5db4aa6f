// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package instance keeps two bridges from sharing one state directory.
// Two bridges on the same directory would fight over the control
// socket and both answer the same chat messages.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

const (
	lockFileName = "agentbridge.lock"
	pidFileName  = "agentbridge.pid"
)

// ErrAlreadyRunning is returned by Acquire when another process holds
// the lock.
var ErrAlreadyRunning = errors.New("another agentbridge is running")

// Lock is a held instance lock.
type Lock struct {
	fileLock *flock.Flock
	pidPath  string
}

// Acquire takes the instance lock for stateDir without blocking and
// records the current PID next to it.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory %s: %w", stateDir, err)
	}

	fileLock := flock.New(filepath.Join(stateDir, lockFileName))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", fileLock.Path(), err)
	}
	pidPath := filepath.Join(stateDir, pidFileName)
	if !locked {
		if pid, ok := readPID(pidPath); ok {
			return nil, fmt.Errorf("%w (pid %d, state %s)", ErrAlreadyRunning, pid, stateDir)
		}
		return nil, fmt.Errorf("%w (state %s)", ErrAlreadyRunning, stateDir)
	}

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("writing %s: %w", pidPath, err)
	}
	return &Lock{fileLock: fileLock, pidPath: pidPath}, nil
}

// Release removes the PID file and drops the lock.
func (l *Lock) Release() error {
	os.Remove(l.pidPath)
	return l.fileLock.Unlock()
}

// RunningPID returns the PID recorded by the bridge holding stateDir,
// or false if no bridge holds it.
func RunningPID(stateDir string) (int, bool) {
	probe := flock.New(filepath.Join(stateDir, lockFileName))
	locked, err := probe.TryLock()
	if err != nil {
		return 0, false
	}
	if locked {
		probe.Unlock()
		return 0, false
	}
	return readPID(filepath.Join(stateDir, pidFileName))
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
