package debug

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (connections, mode changes)
	LevelLive    = 2 // Live info (commands executed, moves issued)
	LevelVerbose = 3 // Verbose (pose details, queue state)
	LevelTrace   = 4 // Trace (every pulse written, very low level)
)

// Logger is a levelled logger handed to every component at construction.
// Levels follow the 0-4 scale above; output goes through zap.
type Logger struct {
	level int
	z     *zap.SugaredLogger
}

// New creates a logger writing to w at the given level (0-4).
// 0 = no output
// 1 = important info
// 2 = live info (commands, moves)
// 3 = verbose (poses, queue, config)
// 4 = trace (pulse writes, GPIO)
func New(debugLevel int, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zapLevel(debugLevel))
	return &Logger{level: debugLevel, z: zap.New(core).Named("OttoGo").Sugar()}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{level: LevelOff, z: zap.NewNop().Sugar()}
}

// NewObserved returns a trace-level logger whose entries are recorded in
// memory, for tests.
func NewObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{level: LevelTrace, z: zap.New(core).Sugar()}, logs
}

func zapLevel(level int) zapcore.LevelEnabler {
	switch {
	case level <= LevelOff:
		return zapcore.FatalLevel + 1
	case level < LevelVerbose:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Named returns a child logger for a component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{level: l.level, z: l.z.Named(name)}
}

// With returns a child logger carrying key/value context.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{level: l.level, z: l.z.With(args...)}
}

// Level returns the current debug level.
func (l *Logger) Level() int {
	return l.level
}

// IsEnabled returns true if debug level is >= the requested level.
func (l *Logger) IsEnabled(minLevel int) bool {
	return l.level >= minLevel
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.z.Infof(format, args...)
	}
}

// Warn prints a level 1 warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.z.Warnf(format, args...)
	}
}

// Value prints a named value in formatted form (level 1).
func (l *Logger) Value(name string, value interface{}) {
	if l.level >= LevelInfo {
		l.z.Infof("  %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func (l *Logger) Live(format string, args ...interface{}) {
	if l.level >= LevelLive {
		l.z.Infof(format, args...)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LevelVerbose {
		l.z.Debugf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func (l *Logger) PrintStruct(name string, v interface{}) {
	if l.level >= LevelVerbose {
		l.z.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func (l *Logger) Section(name string) {
	if l.level >= LevelVerbose {
		l.z.Debugf("━━━━━━━━ %s ━━━━━━━━", name)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level >= LevelTrace {
		l.z.Debugf(format, args...)
	}
}

// Pulse prints a pulse-width write (level 4).
func (l *Logger) Pulse(operation string, pin int, value interface{}) {
	if l.level >= LevelTrace {
		l.z.Debugf("[PULSE] %s pin=%d value=%v", operation, pin, value)
	}
}

// GPIO prints a GPIO operation (level 4).
func (l *Logger) GPIO(operation string, pin int, value interface{}) {
	if l.level >= LevelTrace {
		l.z.Debugf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Error prints an error (level 1+).
func (l *Logger) Error(err error) {
	if l.level >= LevelInfo {
		l.z.Error(err.Error())
	}
}

// Errorf prints a formatted error (level 1+).
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.z.Errorf(format, args...)
	}
}

// Fmt returns a formatted string only if debug is enabled (to avoid
// unnecessary allocations).
func (l *Logger) Fmt(format string, args ...interface{}) string {
	if l.level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
