package loop

import (
	"fmt"

	"go.uber.org/zap"
)

// safeCall runs fn and logs a panic instead of propagating it
func safeCall(logger *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic in loop callback", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func safeWork(logger *zap.Logger, work func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic in background work", zap.Any("panic", r))
			err = fmt.Errorf("background work panicked: %v", r)
		}
	}()
	return work()
}
