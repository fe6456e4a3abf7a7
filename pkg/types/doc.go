// Package types defines the public identifiers and typed error taxonomy
// shared across vmokit packages.
//
// Design goals:
//   - Small, copyable handles (ObjectID) instead of large object graphs.
//   - Typed errors with stable categories (out-of-memory/out-of-range/...)
//     so callers can branch on intent rather than text.
//
// This package has no dependencies beyond the standard library.
package types
