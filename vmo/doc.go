// Package vmo implements the copy-on-write memory-object engine: trees of
// memory objects that can be cloned cheaply, diverge page-by-page as each
// clone is written, and collapse back together when a clone is destroyed.
//
// An object tree ("family") is built from two node kinds. Leaves are the
// user-visible objects. Hidden nodes are internal fork anchors created by
// CreateClone; each holds the pages that were shared at clone time and has
// exactly two children. A write fault walks up the ancestor chain to find
// the authoritative page, then forks it back down toward the writer, moving
// the page when only one subtree can still reach it and copying it
// otherwise. Closing a leaf collapses its hidden parent into the surviving
// sibling.
//
// All nodes in one family share a single lock; clone, fork, merge,
// attribution, and pin operations reach across node boundaries atomically.
// Only pager round-trips block, and they release the lock first.
package vmo
