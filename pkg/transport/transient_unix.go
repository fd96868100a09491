//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// EWOULDBLOCK equals EAGAIN on every supported unix.
var transientErrnos = []syscall.Errno{
	unix.EINTR,
	unix.EAGAIN,
	unix.EWOULDBLOCK,
	unix.EINPROGRESS,
	unix.EALREADY,
}
