//go:build !linux

package spizero

import (
	"errors"
	"unsafe"
)

func sysOpen(path string) (int, error) {
	return -1, errors.ErrUnsupported
}

func sysClose(fd int) error {
	return errors.ErrUnsupported
}

func sysIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	return errors.ErrUnsupported
}

func sysIoctlValue(fd int, req uintptr, v int) error {
	return errors.ErrUnsupported
}
