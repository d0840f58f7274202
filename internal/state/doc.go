// Package state provides filesystem-backed storage implementations.
//
// Layout under the data directory:
//
//	artifacts/<YYYY-MM-DD>/<run_id>.json    one write-once file per run
//	advisories/<run_id>/<advisory_id>.json  append-only links to a run
//	sessions/<session_id>.json              workflow session snapshots
package state

import "github.com/user/rungov/internal/types"

// Compile-time interface compliance checks.
var _ types.ArtifactStore = (*ArtifactStore)(nil)
var _ types.SessionStore = (*SessionStore)(nil)
