package provision

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// PanicLogger receives recovered panics from orchestration goroutines.
type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler builds a deferred recovery func that forwards panics to
// the given logger with a trimmed stack trace.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			stack := make([]byte, 8096)
			n := runtime.Stack(stack, false)
			logger(funcName, err, trimStack(stack[:n]), fields...)
		}
	}
}

// PanicToLogger adapts a Logger into a PanicLogger.
func PanicToLogger(logger Logger) PanicLogger {
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("recovered from panic in %s: %v (%T)\n", funcName, err, err))
		if len(fields) > 0 && fields[0] != nil {
			keys := make([]string, 0, len(fields[0]))
			for k := range fields[0] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sb.WriteString(fmt.Sprintf("  %s: %v\n", k, fields[0][k]))
			}
		}
		sb.Write(stack)
		NormalizeLogger(logger).Error(sb.String())
	}
}

func trimStack(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")
	for i, line := range lines {
		if strings.Contains(line, "panic(") && i+2 < len(lines) {
			// drop the panic() frame and its file reference line
			return []byte(strings.Join(lines[i+2:], "\n"))
		}
	}
	return stack
}
