//go:build !unix

package page

// mapArena falls back to a heap slice on platforms without anonymous mmap
// support. Frame addresses are still stable because the slice is never
// reallocated.
func mapArena(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
