package goplus

import (
	"fmt"
	"runtime"

	"github.com/utrading/qd-client/pkg/logger"
)

const maxPanicDepth = 32

// Recover 捕获 panic 并记录调用栈，需在 defer 中直接调用
func Recover() {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Strs("callers", callers(3)).
			Msg("goroutine panic recovered")
	}
}

func callers(skip int) []string {
	out := make([]string, 0, maxPanicDepth)
	for i := skip; i < skip+maxPanicDepth; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		out = append(out, fmt.Sprintf("%s:%d", file, line))
	}
	return out
}
