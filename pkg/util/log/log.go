package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the global application logger. It defaults to logfmt on
// stderr at info; InitLogger replaces it once config is loaded.
var Logger kitlog.Logger = newLogger("info")

// InitLogger installs the global logger honoring the configured level.
func InitLogger(logLevel string) {
	Logger = newLogger(logLevel)
}

func newLogger(logLevel string) kitlog.Logger {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, levelFilter(logLevel))
	l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)
	return l
}

func levelFilter(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "info":
		return level.AllowInfo()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
