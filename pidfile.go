package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/tonimelisma/ssofetch/internal/config"
)

const (
	pidFileName        = "serve.pid"
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// errServeNotRunning is returned by signalServe when no live serve process
// owns the PID file.
var errServeNotRunning = errors.New("no running 'ssofetch serve' found")

// pidFilePath returns where `serve` records its PID.
func pidFilePath() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}

// acquirePIDFile writes the current PID to path under an exclusive flock,
// so a second `serve` on the same data directory fails fast. The returned
// release func removes the file and drops the lock.
func acquirePIDFile(path string) (release func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty; cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	fail := func(err error) (func(), error) {
		f.Close()
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fail(fmt.Errorf("another 'ssofetch serve' is already running (could not lock %s)", path))
	}

	if err := f.Truncate(0); err != nil {
		return fail(fmt.Errorf("truncating PID file: %w", err))
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail(fmt.Errorf("writing PID file: %w", err))
	}

	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("syncing PID file: %w", err))
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile returns the PID recorded at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// signalServe delivers sig to the serve process recorded at path. A PID
// file left behind by a dead process is removed.
func signalServe(path string, sig syscall.Signal) (int, error) {
	pid, err := readPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w (no PID file at %s)", errServeNotRunning, path)
		}

		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 probes liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return pid, fmt.Errorf("%w (PID %d is gone, stale PID file removed)", errServeNotRunning, pid)
	}

	if err := proc.Signal(sig); err != nil {
		return pid, fmt.Errorf("signaling serve (PID %d): %w", pid, err)
	}

	return pid, nil
}
