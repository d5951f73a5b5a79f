package daemon

import (
	"fmt"
	"runtime/debug"
)

// SafeExecute runs fn and converts a panic into an ordinary error. The panic
// value and stack are logged before the error is returned.
func SafeExecute(logger Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("panic_recovered",
					"operation", operation,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()))
			}
			err = fmt.Errorf("panic in %s: %v", operation, r)
		}
	}()
	return fn()
}

// SafeExecuteWithResult runs fn and converts a panic into an ordinary error,
// returning the zero value for T alongside it.
func SafeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("panic_recovered",
					"operation", operation,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()))
			}
			var zero T
			result = zero
			err = fmt.Errorf("panic in %s: %v", operation, r)
		}
	}()
	return fn()
}

// SafeGo starts fn on a new goroutine with panic containment. A recovered
// panic is logged and handed to onPanic when one is provided.
func SafeGo(logger Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", fmt.Sprintf("%v", r),
						"stack", string(debug.Stack()))
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
