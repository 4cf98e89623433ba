package errno

import (
	"errors"
	"fmt"
)

// Class groups errors by how a caller is expected to react.
type Class int

const (
	ClassUnknown Class = iota
	ClassAddressing
	ClassCapacity
	ClassPermission
	ClassValidation
	ClassConcurrency
)

// String returns the string representation of the class
func (c Class) String() string {
	switch c {
	case ClassAddressing:
		return "addressing"
	case ClassCapacity:
		return "capacity"
	case ClassPermission:
		return "permission"
	case ClassValidation:
		return "validation"
	case ClassConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Errno is a caller-facing kernel error. Code is negative, as carried in reply messages.
type Errno struct {
	Code  int32
	Name  string
	Class Class
	msg   string
}

func (e *Errno) Error() string {
	return e.msg
}

const OK int32 = 0

var (
	ErrDeadSrcDst = register(-3, "ESRCH", ClassAddressing, "source or destination is not alive")
	ErrExited     = register(-304, "EEXITED", ClassAddressing, "calling process has exited")
	ErrBadSrcDst  = register(-22, "EBADSRCDST", ClassValidation, "source or destination is not a valid endpoint")

	ErrQueueFull = register(-28, "ENOSPC", ClassCapacity, "destination sender queue is full")
	ErrTableFull = register(-1028, "ENOSPC", ClassCapacity, "grant table is full")

	ErrPerm       = register(-1, "EPERM", ClassPermission, "access not permitted by grant")
	ErrCallDenied = register(-305, "ECALLDENIED", ClassPermission, "caller lacks the required privilege")

	ErrInvalid      = register(-1022, "EINVAL", ClassValidation, "invalid argument")
	ErrInvalidGrant = register(-2022, "EINVAL", ClassValidation, "invalid or stale grant")
	ErrRange        = register(-3022, "EINVAL", ClassValidation, "offset or length outside granted range")
	ErrLoop         = register(-62, "ELOOP", ClassValidation, "chain too deep or cyclic")
	ErrBadMessage   = register(-74, "EBADMSG", ClassValidation, "unknown message payload kind")

	ErrNotReady = register(-35, "EAGAIN", ClassConcurrency, "partner not ready")
	ErrDeadlock = register(-11, "EDEADLK", ClassConcurrency, "mutual wait cycle detected")
	ErrBusy     = register(-16, "EBUSY", ClassConcurrency, "process already blocked in another call")
)

var byCode = map[int32]*Errno{}

func register(code int32, name string, class Class, msg string) *Errno {
	e := &Errno{Code: code, Name: name, Class: class, msg: msg}
	if _, dup := byCode[code]; dup {
		panic(fmt.Sprintf("errno: duplicate code %d", code))
	}
	byCode[code] = e
	return e
}

// FromCode maps a status code carried in a message back to an error. OK maps to nil.
func FromCode(code int32) error {
	if code == OK {
		return nil
	}
	if e, ok := byCode[code]; ok {
		return e
	}
	return fmt.Errorf("unknown status %d: %w", code, ErrInvalid)
}

// Code returns the status code for err, suitable for a reply message.
func Code(err error) int32 {
	if err == nil {
		return OK
	}
	var e *Errno
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInvalid.Code
}

// ClassOf reports the class of err, or ClassUnknown.
func ClassOf(err error) Class {
	var e *Errno
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassUnknown
}

// IsClass reports whether err belongs to class c.
func IsClass(err error, c Class) bool {
	return err != nil && ClassOf(err) == c
}
