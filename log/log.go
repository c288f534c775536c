package log

import (
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process wide logger. Packages derive named children from it
// with Named.
var Log *zap.Logger

// Level controls Log. It is also an http.Handler (GET reports, PUT sets).
var Level = zap.NewAtomicLevelAt(zapcore.PanicLevel)

func init() {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = ""
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = "lv"
	encoderCfg.CallerKey = "caller"
	encoderCfg.EncodeCaller = zapcore.ShortCallerEncoder

	if lv, ok := ParseLevel(os.Getenv("DBGLOGLV")); ok {
		Level.SetLevel(lv)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		Level,
	)
	Log = zap.New(core, zap.AddCaller())
}

// ParseLevel maps the level names accepted in DBGLOGLV and the config file.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "panic":
		return zapcore.PanicLevel, true
	}
	return zapcore.PanicLevel, false
}

// Setup applies a configured level unless DBGLOGLV already chose one, and
// serves the level handler at /debug when addr is not empty.
func Setup(level string, addr string) {
	if _, fromEnv := ParseLevel(os.Getenv("DBGLOGLV")); !fromEnv {
		if lv, ok := ParseLevel(level); ok {
			Level.SetLevel(lv)
		}
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/debug", Level)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			Log.Error("level server", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// Named returns a child of Log tagged with the component name.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}
