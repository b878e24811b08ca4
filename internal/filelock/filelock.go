// Package filelock guards the data directory against a second process
// instance. The serve command takes the lock before opening the store
// so two daemons never write the same backup chain.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

// Lock is an advisory flock on a file in the data directory. The
// holder's pid is written into the file so "who has it" is answerable
// from a shell.
type Lock struct {
	path string
	file *os.File
}

// ForDir creates a lock rooted at dir/.lock
func ForDir(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, ".lock")}
}

// TryAcquire attempts to take the lock without blocking. A held lock
// returns ErrAlreadyLocked with the holder's pid when readable.
func (l *Lock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readPid(f)
		f.Close()
		if err == syscall.EWOULDBLOCK {
			if holder > 0 {
				return fmt.Errorf("%w: held by pid %d", apperrors.ErrAlreadyLocked, holder)
			}
			return apperrors.ErrAlreadyLocked
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	l.file = f
	return nil
}

// Acquire takes the lock, retrying with backoff until timeout
func (l *Lock) Acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	retry := 10 * time.Millisecond

	for {
		err := l.TryAcquire()
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperrors.ErrAlreadyLocked) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for lock on %s: %w", l.path, apperrors.ErrAlreadyLocked)
		}
		time.Sleep(retry)
		if retry < 100*time.Millisecond {
			retry *= 2
		}
	}
}

// Release drops the lock and removes the pid file. Safe to call when
// the lock is not held.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	// Remove before unlocking so a waiter never reads a stale pid.
	os.Remove(l.path)
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}
	return nil
}

// Path returns the lock file location
func (l *Lock) Path() string {
	return l.path
}

func readPid(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
