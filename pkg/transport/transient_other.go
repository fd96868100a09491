//go:build !unix && !windows

package transport

import "syscall"

var transientErrnos []syscall.Errno
