package applog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"darkages-swarm/build"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger = zap.Logger

// LogEntry is a single buffered log record carried through an asyncSink.
type LogEntry struct {
	Entry  *zapcore.Entry
	Fields []zap.Field
}

func Info(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Fatal(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

func LogStartup(launchArgs interface{}) {
	buildInfo := build.GetBuildInfo()
	buildCommit := "unknown"
	if buildInfo != nil {
		buildCommit = buildInfo.CommitHash
	}

	Info("Application started",
		zap.String("buildCommit", buildCommit),
		zap.Any("launchArgs", launchArgs),
	)
}

func GetLogger() *Logger {
	return globalLogger
}

// Initialize switches the default console-only logger to a console+file pair.
// Both cores are wrapped in async sinks so slow disk writes never stall the
// caller; bot goroutines log on their hot paths.
func Initialize(runId string, rawLogLevel int, logPath string) error {
	logDir := logPath
	if logDir == "" {
		workdir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}
		logDir = filepath.Join(workdir, "logs")
	}

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create log directory '%s': %w", logDir, err)
	}

	logFilename := filepath.Join(logDir, fmt.Sprintf("swarm_%s.log", runId))

	var err error
	logFile, err = os.OpenFile(logFilename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilename, err)
	}

	level := safeGetLogLevelOrDefault(rawLogLevel)

	jsonEncoder := zapcore.NewJSONEncoder(newEncoderConfig())

	consoleCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), level)
	fileCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(logFile), level)

	asyncSinks = []*asyncSink{
		newAsyncSink(consoleCore, asyncSinkBufferSize),
		newAsyncSink(fileCore, asyncSinkBufferSize),
	}

	combined := zapcore.NewTee(asyncSinks[0], asyncSinks[1])
	setLogger(zap.New(combined, opts...).With(zap.String("runId", runId)))
	return nil
}

func Shutdown() {
	for _, sink := range asyncSinks {
		sink.Shutdown(time.Second)
	}
	asyncSinks = nil

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func safeGetLogLevelOrDefault(rawLevel int) zapcore.Level {
	level := zapcore.Level(rawLevel)
	if level < zapcore.DebugLevel || level >= zapcore.InvalidLevel {
		return zapcore.InfoLevel
	}
	return level
}

var (
	opts = []zap.Option{
		zap.AddCaller(),
	}
	globalLogger = newConsoleLogger(opts...)
	logFile      *os.File
	asyncSinks   []*asyncSink
)

const asyncSinkBufferSize = 1024

func newEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339)) // Ensure UTC
	}
	return encoderConfig
}

func newConsoleLogger(opts ...zap.Option) *Logger {
	jsonEncoder := zapcore.NewJSONEncoder(newEncoderConfig())
	core := zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
	return zap.New(core, opts...)
}

func setLogger(l *Logger) {
	globalLogger = l
	zap.ReplaceGlobals(globalLogger)
}
