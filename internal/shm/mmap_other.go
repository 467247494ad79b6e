//go:build !unix

package shm

import "os"

func mmapFile(file *os.File, size int, writable bool) ([]byte, error) {
	return nil, ErrUnsupported
}

func munmap(data []byte) error {
	return nil
}

func withFileLock(file *os.File, fn func() error) error {
	return ErrUnsupported
}

func processAlive(pid uint32) bool {
	return true
}
