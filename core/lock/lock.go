// Package lock provides a cross-process exclusive lock backed by a lock file
// created with O_EXCL. Waiting is bounded; a holder that crashed is detected
// by the lock file's age and its lock is reclaimed.
package lock

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	DefaultTimeout    = 3 * time.Second
	DefaultRetry      = 10 * time.Millisecond
	DefaultStaleAfter = 2 * time.Minute
)

var ErrTimeout = errors.New("lock acquisition timed out")

type Options struct {
	Timeout    time.Duration
	Retry      time.Duration
	StaleAfter time.Duration
}

func (options Options) normalized() Options {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Retry <= 0 {
		options.Retry = DefaultRetry
	}
	if options.StaleAfter <= 0 {
		options.StaleAfter = DefaultStaleAfter
	}
	return options
}

// Acquire blocks until the lock file at path is created by this caller or
// the timeout elapses. The returned release func removes the lock file.
func Acquire(path string, options Options) (func(), error) {
	options = options.normalized()
	start := time.Now()
	for {
		// #nosec G304 -- lock path is derived from a project root chosen by the caller.
		lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(lockFile, "%d\n", os.Getpid())
			_ = lockFile.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !isContention(err, path) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if isStale(path, time.Now().UTC(), options.StaleAfter) {
			_ = os.Remove(path)
			continue
		}
		if time.Since(start) >= options.Timeout {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, options.Timeout, path)
		}
		time.Sleep(options.Retry)
	}
}

// With runs fn while holding the lock at path.
func With(path string, options Options, fn func() error) error {
	release, err := Acquire(path, options)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func isContention(acquireErr error, path string) bool {
	if os.IsExist(acquireErr) {
		return true
	}
	if !os.IsPermission(acquireErr) {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

func isStale(path string, now time.Time, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime().UTC()) > staleAfter
}
