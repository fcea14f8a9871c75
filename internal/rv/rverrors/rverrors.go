// Package rverrors defines the flat, stable error kinds the core surfaces
// to callers. Each kind is a distinct type carrying whatever
// structured fields its diagnosis needs; all of them implement error and
// Kind() so a CLI layer can map them to exit codes or --json output
// without string-matching messages.
package rverrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable, machine-consumable identifier for an error category.
type Kind string

const (
	KindManifestInvalid       Kind = "ManifestInvalid"
	KindRepositoryFetchFailed Kind = "RepositoryFetchFailed"
	KindVersionConflict       Kind = "VersionConflict"
	KindSourceConflict        Kind = "SourceConflict"
	KindPackageNotFound       Kind = "PackageNotFound"
	KindArchiveDigestMismatch Kind = "ArchiveDigestMismatch"
	KindGitRefUnresolved      Kind = "GitRefUnresolved"
	KindDescriptorInvalid     Kind = "DescriptorInvalid"
	KindBuildFailed           Kind = "BuildFailed"
	KindPackageInUse          Kind = "PackageInUse"
	KindLockfileIncompatible  Kind = "LockfileIncompatible"
	KindCancelled             Kind = "Cancelled"
)

// ManifestInvalid reports a structural or semantic problem in the manifest.
type ManifestInvalid struct {
	Reason string
}

func (e *ManifestInvalid) Error() string { return "manifest invalid: " + e.Reason }
func (e *ManifestInvalid) Kind() Kind    { return KindManifestInvalid }

// RepositoryFetchFailed reports exhausted retries against an index URL.
type RepositoryFetchFailed struct {
	RepoURL string
	Cause   error
}

func (e *RepositoryFetchFailed) Error() string {
	return fmt.Sprintf("fetching repository index %s: %v", e.RepoURL, e.Cause)
}
func (e *RepositoryFetchFailed) Kind() Kind    { return KindRepositoryFetchFailed }
func (e *RepositoryFetchFailed) Unwrap() error { return e.Cause }

// RequiringParent names one package whose requirement contributed to a
// VersionConflict.
type RequiringParent struct {
	Parent      string
	Requirement string
}

// VersionConflict reports an empty intersection of hard requirements.
type VersionConflict struct {
	Package string
	Parents []RequiringParent
}

func (e *VersionConflict) Error() string {
	var parts []string
	for _, p := range e.Parents {
		parts = append(parts, fmt.Sprintf("%s requires %s %s", p.Parent, e.Package, p.Requirement))
	}
	return fmt.Sprintf("version conflict on %s: %s", e.Package, strings.Join(parts, "; "))
}
func (e *VersionConflict) Kind() Kind { return KindVersionConflict }

// SourceConflict reports incompatible source kinds chosen for the same name.
type SourceConflict struct {
	Package      string
	FirstSource  string
	SecondSource string
}

func (e *SourceConflict) Error() string {
	return fmt.Sprintf("source conflict on %s: already resolved from %s, cannot also resolve from %s",
		e.Package, e.FirstSource, e.SecondSource)
}
func (e *SourceConflict) Kind() Kind { return KindSourceConflict }

// PackageNotFound reports a name requested but no tier could supply it.
type PackageNotFound struct {
	Package     string
	Requirement string
}

func (e *PackageNotFound) Error() string {
	if e.Requirement == "" {
		return fmt.Sprintf("package not found: %s", e.Package)
	}
	return fmt.Sprintf("package not found: %s (%s)", e.Package, e.Requirement)
}
func (e *PackageNotFound) Kind() Kind { return KindPackageNotFound }

// ArchiveDigestMismatch reports downloaded bytes disagreeing with the
// recorded digest.
type ArchiveDigestMismatch struct {
	Package  string
	Expected string
	Actual   string
}

func (e *ArchiveDigestMismatch) Error() string {
	return fmt.Sprintf("archive digest mismatch for %s: expected %s, got %s", e.Package, e.Expected, e.Actual)
}
func (e *ArchiveDigestMismatch) Kind() Kind { return KindArchiveDigestMismatch }

// GitRefUnresolved reports a branch/tag/commit not found after fetch.
type GitRefUnresolved struct {
	Package string
	Repo    string
	Ref     string
}

func (e *GitRefUnresolved) Error() string {
	return fmt.Sprintf("could not resolve ref %q in %s for %s", e.Ref, e.Repo, e.Package)
}
func (e *GitRefUnresolved) Kind() Kind { return KindGitRefUnresolved }

// DescriptorInvalid reports a prepared source lacking required metadata.
type DescriptorInvalid struct {
	Package string
	Reason  string
}

func (e *DescriptorInvalid) Error() string {
	return fmt.Sprintf("invalid descriptor for %s: %s", e.Package, e.Reason)
}
func (e *DescriptorInvalid) Kind() Kind { return KindDescriptorInvalid }

// BuildFailed reports the install subprocess exiting non-zero.
type BuildFailed struct {
	Package  string
	ExitCode int
	LogPath  string
}

func (e *BuildFailed) Error() string {
	return fmt.Sprintf("build failed for %s (exit %d), log at %s", e.Package, e.ExitCode, e.LogPath)
}
func (e *BuildFailed) Kind() Kind { return KindBuildFailed }

// InUseProcess names one process blocking a removal.
type InUseProcess struct {
	PID  int
	Name string
}

// PackageInUse reports the in-use safety probe blocking a removal.
type PackageInUse struct {
	Package   string
	Processes []InUseProcess
}

func (e *PackageInUse) Error() string {
	var parts []string
	for _, p := range e.Processes {
		parts = append(parts, fmt.Sprintf("%s (pid %d)", p.Name, p.PID))
	}
	return fmt.Sprintf("package %s is in use by: %s", e.Package, strings.Join(parts, ", "))
}
func (e *PackageInUse) Kind() Kind { return KindPackageInUse }

// LockfileIncompatible reports an unknown lockfile format version.
type LockfileIncompatible struct {
	Found, Want int
}

func (e *LockfileIncompatible) Error() string {
	return fmt.Sprintf("lockfile format version %d is incompatible with this build (want %d)", e.Found, e.Want)
}
func (e *LockfileIncompatible) Kind() Kind { return KindLockfileIncompatible }

// Cancelled reports that a user signal was observed.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "cancelled" }
func (e *Cancelled) Kind() Kind    { return KindCancelled }

// KindOf extracts the Kind from any error produced by this package,
// unwrapping as needed, or "" if err does not originate here.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
