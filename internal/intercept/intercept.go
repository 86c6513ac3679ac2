// Package intercept provides the decorator used to hook page operations
// such as attachShadow and custom element constructors.
package intercept

import (
	"fmt"
	"log/slog"
)

// Wrap returns a function with the same signature as orig that:
//
//   - calls orig with its argument unchanged and returns exactly what orig
//     returned, error included;
//   - lets a panic raised by orig propagate unchanged;
//   - when orig succeeds, runs after with the argument and result before
//     returning, so the hook observes the result before the caller does;
//   - never lets after affect the caller: its error is logged and its panic
//     recovered and logged.
//
// A nil after makes Wrap return a pass-through.
func Wrap[A, R any](orig func(A) (R, error), after func(A, R) error, logger *slog.Logger) func(A) (R, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(arg A) (R, error) {
		res, err := orig(arg)
		if err != nil || after == nil {
			return res, err
		}
		runAfter(after, arg, res, logger)
		return res, nil
	}
}

func runAfter[A, R any](after func(A, R) error, arg A, res R, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("intercept: hook panicked", "error", fmt.Sprint(r))
		}
	}()
	if err := after(arg, res); err != nil {
		logger.Warn("intercept: hook failed", "error", err)
	}
}
