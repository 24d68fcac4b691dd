// ABOUTME: Shared error taxonomy for scan failures.
// ABOUTME: Sentinel errors that callers branch on and surface with specific remediations.

package types

import "errors"

var (
	// ErrPackageNotFound indicates the archive provider has no package by
	// that name, as opposed to a transient fetch failure
	ErrPackageNotFound = errors.New("package not found in registry")

	// ErrQuotaExhausted indicates the analysis API quota is spent
	ErrQuotaExhausted = errors.New("analysis API quota exceeded: wait for the quota to reset or switch to a different API key")

	// ErrAuthFailure indicates an invalid or under-privileged API key
	ErrAuthFailure = errors.New("analysis API key is invalid or lacks permissions: rotate or correct the configured key")
)
