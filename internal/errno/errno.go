package errno

import (
	"errors"
	"strconv"
)

// Errno is a POSIX error number. It is comparable and implements error, so
// callers match it with errors.Is.
type Errno int

// Error numbers used by the device and allocation layers.
const (
	EIO    Errno = 5
	ENOMEM Errno = 12
	EINVAL Errno = 22
	ENOTTY Errno = 25
)

func (e Errno) Error() string {
	switch e {
	case EIO:
		return "i/o error"
	case ENOMEM:
		return "out of memory"
	case EINVAL:
		return "invalid argument"
	case ENOTTY:
		return "inappropriate ioctl for device"
	default:
		return "errno " + strconv.Itoa(int(e))
	}
}

// Negative returns the negated errno, the form drivers report as a result.
func (e Errno) Negative() int { return -int(e) }

// Code returns the negative errno carried by err, 0 for nil. Errors that
// carry no errno anywhere in their chain report -EIO.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e.Negative()
	}
	type coder interface{ Errno() Errno }
	var c coder
	if errors.As(err, &c) {
		return c.Errno().Negative()
	}
	return EIO.Negative()
}
