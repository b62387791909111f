// Package oserr defines the status codes surfaced at the OSAL API
// boundary. A nil error means success; everything else is an *Err
// wrapping one of the Terror codes below.
package oserr

import (
	"errors"
	"fmt"
)

type Terror int32

const (
	TErrError             Terror = -1
	TErrInvalidPointer    Terror = -2
	TErrSemFailure        Terror = -6
	TErrSemTimeout        Terror = -7
	TErrQueueEmpty        Terror = -8
	TErrQueueFull         Terror = -9
	TErrQueueTimeout      Terror = -10
	TErrQueueInvalidSize  Terror = -11
	TErrNameTooLong       Terror = -13
	TErrNoFreeIds         Terror = -14
	TErrNameTaken         Terror = -15
	TErrInvalidId         Terror = -16
	TErrNameNotFound      Terror = -17
	TErrTimerInvalidArgs  Terror = -21
	TErrIncorrectObjState Terror = -28
)

func (c Terror) String() string {
	switch c {
	case TErrError:
		return "error"
	case TErrInvalidPointer:
		return "invalid pointer"
	case TErrSemFailure:
		return "semaphore failure"
	case TErrSemTimeout:
		return "semaphore timeout"
	case TErrQueueEmpty:
		return "queue empty"
	case TErrQueueFull:
		return "queue full"
	case TErrQueueTimeout:
		return "queue timeout"
	case TErrQueueInvalidSize:
		return "queue invalid size"
	case TErrNameTooLong:
		return "name too long"
	case TErrNoFreeIds:
		return "no free ids"
	case TErrNameTaken:
		return "name taken"
	case TErrInvalidId:
		return "invalid id"
	case TErrNameNotFound:
		return "name not found"
	case TErrTimerInvalidArgs:
		return "timer invalid args"
	case TErrIncorrectObjState:
		return "incorrect object state"
	default:
		return fmt.Sprintf("status(%d)", int32(c))
	}
}

type Err struct {
	ErrCode Terror
	Obj     string
}

func NewErr(code Terror, obj interface{}) *Err {
	return &Err{code, fmt.Sprintf("%v", obj)}
}

func (e *Err) Code() Terror {
	return e.ErrCode
}

func (e *Err) Error() string {
	if e.Obj == "" {
		return e.ErrCode.String()
	}
	return fmt.Sprintf("%v %v", e.ErrCode, e.Obj)
}

func IsErrCode(err error, code Terror) bool {
	var e *Err
	if errors.As(err, &e) {
		return e.ErrCode == code
	}
	return false
}
