//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// Winsock codes for interrupted, would-block, in-progress and already.
var transientErrnos = []syscall.Errno{
	syscall.Errno(10004),
	syscall.Errno(10035),
	syscall.Errno(10036),
	syscall.Errno(10037),
	windows.ERROR_IO_PENDING,
}
