package hive

import (
	"fmt"
	"log"
	"os"
)

// Logging convention for the hive realtime components:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - connection auth refusals and transport errors
//     - swallowed side-effect failures (online flag writes, broadcast errors)
// Error:
//     unrecoverable crash details
// Debug (V levels):
//     key events for trace debugging and statistics
//     this includes:
//     - register/unregister with user ids that can be used to filter
//     - frequent events - e.g. send, broadcast, dispatch - at V(2)

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

func Logger() *log.Logger {
	return logger
}

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			Logger().Printf("%s: %s\n", tag, m)
		}
	}
}
