package go_func_utils

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// SafeGo runs fn on a new goroutine. A panic is logged with its stack and then
// re-raised, so it is not lost when the dashboard owns the terminal.
func SafeGo(logger *zap.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("PANIC", zap.Any("recovered", r), zap.ByteString("stack", debug.Stack()))
				_ = logger.Sync()
				panic(r)
			}
		}()
		fn()
	}()
}
