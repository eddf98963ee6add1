package session

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ReloadHint is shown with every crash.
const ReloadHint = "Something went wrong. Reload the app to continue."

// CrashError is an unexpected panic caught at the session boundary.
// Stack is only captured in development, and only then does Error show
// the panic value.
type CrashError struct {
	Value any
	Stack []byte
	dev   bool
}

func (e *CrashError) Error() string {
	if e.dev {
		return fmt.Sprintf("%s (panic: %v)", ReloadHint, e.Value)
	}
	return ReloadHint
}

// Recover runs fn and turns a panic into a *CrashError.
func Recover(dev bool, fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		crash := &CrashError{Value: r, dev: dev}
		if dev {
			crash.Stack = debug.Stack()
		}
		err = crash
	}()
	return fn()
}

// AsCrash unwraps a *CrashError.
func AsCrash(err error) (*CrashError, bool) {
	var c *CrashError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}
