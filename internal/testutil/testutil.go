// Package testutil provides test helpers for posta tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices, etc.)
//   - builders.go: conversation, group, and card test data builders
package testutil
