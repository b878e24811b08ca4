package filelock

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

func TestTryAcquireAndRelease(t *testing.T) {
	lock := ForDir(t.TempDir())

	if err := lock.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("lock file pid = %q, want %d", strings.TrimSpace(string(data)), os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
}

func TestSecondHolderDenied(t *testing.T) {
	dir := t.TempDir()
	first := ForDir(dir)
	second := ForDir(dir)

	if err := first.TryAcquire(); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}
	defer first.Release()

	err := second.TryAcquire()
	if !errors.Is(err, apperrors.ErrAlreadyLocked) {
		t.Fatalf("second TryAcquire = %v, want ErrAlreadyLocked", err)
	}
	if !strings.Contains(err.Error(), strconv.Itoa(os.Getpid())) {
		t.Errorf("error should name the holder pid: %v", err)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	dir := t.TempDir()
	first := ForDir(dir)
	if err := first.TryAcquire(); err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	second := ForDir(dir)
	start := time.Now()
	err := second.Acquire(50 * time.Millisecond)
	if !errors.Is(err, apperrors.ErrAlreadyLocked) {
		t.Fatalf("Acquire = %v, want ErrAlreadyLocked", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Acquire returned before the timeout elapsed")
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	dir := t.TempDir()
	first := ForDir(dir)
	if err := first.TryAcquire(); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		first.Release()
	}()

	second := ForDir(dir)
	if err := second.Acquire(2 * time.Second); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	second.Release()
}

func TestReleaseWithoutAcquire(t *testing.T) {
	lock := ForDir(t.TempDir())
	if err := lock.Release(); err != nil {
		t.Fatalf("Release on unheld lock: %v", err)
	}
}
