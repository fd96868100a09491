package transport

import (
	"errors"
	"syscall"
)

// isTransient reports whether err is an OS-level condition that warrants
// retrying the same call.
func isTransient(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, each := range transientErrnos {
		if errno == each {
			return true
		}
	}
	return false
}
