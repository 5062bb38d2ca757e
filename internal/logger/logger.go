package logger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	Log        *zap.Logger = zap.NewNop()
	gormLogger gormlogger.Interface
)

// defaultSensitiveWords are masked in traced SQL.
var defaultSensitiveWords = []string{"password", "token", "secret", "apikey", "api_key", "credential"}

// GormLogger adapts zap to gorm's logger interface.
type GormLogger struct {
	*zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration

	redactors []*regexp.Regexp
}

// Init initializes the global Zap logger and the GORM logger wrapper.
// jsonOutput controls whether logs are formatted as JSON.
func Init(debug bool, jsonOutput bool) error {
	var config zap.Config
	var encoderConfig zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.DisableCaller = true
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.NameKey = "logger"
	encoderConfig.MessageKey = "msg"
	encoderConfig.StacktraceKey = "stacktrace"
	if !config.DisableCaller {
		encoderConfig.CallerKey = "caller"
	}

	config.EncoderConfig = encoderConfig
	config.DisableStacktrace = !debug

	if jsonOutput {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		if !debug {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}
	Log = built

	gormLogger = NewGormLogger(Log, debug)
	Log.Info("Logger initialized",
		zap.Bool("debug_mode", debug),
		zap.Bool("json_output", jsonOutput),
		zap.String("log_level", config.Level.Level().String()),
	)
	return nil
}

// NewGormLogger wraps base as a GORM logger. SQL is traced only in debug mode.
func NewGormLogger(base *zap.Logger, debug bool) *GormLogger {
	if base == nil {
		base = zap.NewNop()
	}
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}

	redactors := make([]*regexp.Regexp, 0, len(defaultSensitiveWords))
	for _, word := range defaultSensitiveWords {
		// key=value, key: value and key = 'quoted value'
		redactors = append(redactors, regexp.MustCompile(
			fmt.Sprintf(`(?i)(%s\s*[:=]\s*)('[^']*'|"[^"]*"|\S+)`, regexp.QuoteMeta(word))))
	}

	return &GormLogger{
		Logger:        base.Named("gorm"),
		LogLevel:      level,
		SlowThreshold: 200 * time.Millisecond,
		redactors:     redactors,
	}
}

// LogMode sets the GORM log level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.WithOptions(zap.AddCallerSkip(1)).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.WithOptions(zap.AddCallerSkip(1)).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.WithOptions(zap.AddCallerSkip(1)).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs SQL errors, slow queries and, in Info mode, every statement.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	isErr := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error
	isSlow := l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn
	if !isErr && !isSlow && l.LogLevel < gormlogger.Info {
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("duration_ms", elapsed.Round(time.Millisecond)),
		zap.String("sql", l.Redact(sql)),
	}
	if rows > -1 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	log := l.Logger.WithOptions(zap.AddCallerSkip(1))
	switch {
	case isErr:
		log.Error("SQL Error", append(fields, zap.Error(err))...)
	case isSlow:
		log.Warn("Slow Query", append(fields, zap.Duration("threshold", l.SlowThreshold))...)
	default:
		log.Debug("SQL Query", fields...)
	}
}

// Redact masks values assigned to sensitive keys.
func (l *GormLogger) Redact(sql string) string {
	for _, re := range l.redactors {
		sql = re.ReplaceAllString(sql, `${1}***REDACTED***`)
	}
	return sql
}

// GetGormLogger returns the GORM logger created by Init, or a quiet one bound to the current Log.
func GetGormLogger() gormlogger.Interface {
	if gormLogger == nil {
		return NewGormLogger(Log, false)
	}
	return gormLogger
}
