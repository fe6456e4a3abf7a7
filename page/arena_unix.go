//go:build unix

package page

import (
	"golang.org/x/sys/unix"
)

// mapArena reserves size bytes of anonymous, private memory. The mapping
// gives frames stable addresses for the ledger's lifetime.
func mapArena(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		return unix.Munmap(data)
	}
	return data, cleanup, nil
}
