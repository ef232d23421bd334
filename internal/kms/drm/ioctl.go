//go:build linux

package drm

import (
	"golang.org/x/sys/unix"
)

// Linux _IOC encoding.
const (
	iocWrite uint32 = 1
	iocRead  uint32 = 2

	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

const iocBase = 'd'

func ioc(dir uint32, nr uint8, size uintptr) uint32 {
	return dir<<iocDirShift |
		uint32(size)<<iocSizeShift |
		iocBase<<iocTypeShift |
		uint32(nr)<<iocNrShift
}

func iowr(nr uint8, size uintptr) uint32 {
	return ioc(iocRead|iocWrite, nr, size)
}

func iow(nr uint8, size uintptr) uint32 {
	return ioc(iocWrite, nr, size)
}

func ioctl(fd int, request uint32, arg uintptr) error {
	_, _, err := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), arg)
	if err != 0 {
		return err
	}
	return nil
}

func ioctlWithRetry(fd int, request uint32, arg uintptr) error {
	for {
		err := ioctl(fd, request, arg)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return err
	}
}
