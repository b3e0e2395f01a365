// Package apt manages package selections on the target system: marking
// packages for installation or removal against a dependency-aware cache,
// keeping that cache consistent, and committing the result with progress
// reported to fetch and install observers.
package apt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownPackage is returned for names the cache has never heard of.
	ErrUnknownPackage = errors.New("unknown package")
	// ErrCacheInconsistent means reverting a mark did not bring the broken
	// count back to zero.
	ErrCacheInconsistent = errors.New("package cache left with broken packages")
	// ErrCommitted is returned when a transaction is committed twice.
	ErrCommitted = errors.New("transaction already committed")
	// ErrEssential refuses removal of packages the system cannot run without.
	ErrEssential = errors.New("refusing to remove essential package")
	// ErrNoCandidate is returned when a package has no installable version.
	ErrNoCandidate = errors.New("package has no installation candidate")
)

// TransactionError wraps a system-level failure while updating indices or
// committing.
type TransactionError struct {
	Phase string // "update", "fetch" or "install"
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("apt %s: %v", e.Phase, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Changes lists the pending selections of a cache.
type Changes struct {
	Install []string
	Remove  []string
	Purge   bool
}

// Empty reports whether there is nothing to commit.
func (c Changes) Empty() bool { return len(c.Install) == 0 && len(c.Remove) == 0 }

// Cache is the package database capability the installer drives.
// Mark operations may leave packages broken; callers are expected to check
// BrokenCount and revert with MarkKeep.
type Cache interface {
	Has(name string) bool
	IsInstalled(name string) bool
	MarkedInstall(name string) bool
	MarkedDelete(name string) bool

	MarkInstall(name string) error
	MarkDelete(name string, autoFix, purge bool) error
	MarkKeep(name string)

	BrokenCount() int
	Broken() []string
	Changes() Changes

	// Update refreshes package indices. It reports false when fetching
	// failed or was cancelled by the observer.
	Update(ctx context.Context, fetch FetchObserver) (bool, error)
	// Commit downloads and applies the pending changes. It reports false
	// when the fetch or install step failed; err is reserved for failures
	// to run at all.
	Commit(ctx context.Context, fetch FetchObserver, install InstallObserver) (bool, error)
}

// FetchObserver follows download progress.
type FetchObserver interface {
	Start()
	// Pulse reports overall progress; returning false cancels the fetch.
	Pulse(percent float64, status string) bool
	Stop()
}

// InstallObserver follows dpkg progress.
type InstallObserver interface {
	StartUpdate()
	StatusChange(pkg string, percent float64, status string)
	Error(pkg, message string)
	Conffile(current, proposed string)
	FinishUpdate()
}

// NopFetch and NopInstall ignore everything.
type (
	NopFetch   struct{}
	NopInstall struct{}
)

func (NopFetch) Start()                                 {}
func (NopFetch) Pulse(float64, string) bool             { return true }
func (NopFetch) Stop()                                  {}
func (NopInstall) StartUpdate()                         {}
func (NopInstall) StatusChange(string, float64, string) {}
func (NopInstall) Error(string, string)                 {}
func (NopInstall) Conffile(string, string)              {}
func (NopInstall) FinishUpdate()                        {}

// clock is swapped in tests.
var clock = time.Now
