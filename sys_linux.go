//go:build linux

package spizero

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func sysOpen(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

// sysIoctl passes a pointer argument to the driver.
func sysIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// sysIoctlValue passes an integer argument by value.
func sysIoctlValue(fd int, req uintptr, v int) error {
	return unix.IoctlSetInt(fd, uint(req), v)
}
