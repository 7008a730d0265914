package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

type MyLogger struct {
	Logger *log.LogrusLogger
	level  log.Level
	raw    *logrus.Logger
}

func (ml *MyLogger) Level() string {
	switch ml.level {
	case log.PanicLevel:
		return "Panic"
	case log.FatalLevel:
		return "Fatal"
	case log.ErrorLevel:
		return "Error"
	case log.WarnLevel:
		return "Warn"
	case log.InfoLevel:
		return "Info"
	case log.DebugLevel:
		return "Debug"
	case log.TraceLevel:
		return "Trace"
	}
	return "Unknown"
}

// LogFile configures rotation of the optional log file.
type LogFile struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

var (
	mu              sync.Mutex
	loggers         map[string]*MyLogger
	output          io.Writer = os.Stderr
	DefaultLogLevel           = log.InfoLevel
)

func init() {
	loggers = make(map[string]*MyLogger)
}

func NewLogrusLogger(level log.Level, prefix string, fields log.Fields) log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger, found := loggers[prefix]; found {
		return logger.Logger.WithPrefix(prefix)
	}
	l := logrus.New()
	l.Level = logrus.ErrorLevel
	l.Out = output
	l.Formatter = &prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		ForceColors:     output == os.Stderr,
		ForceFormatting: true,
	}
	l.SetReportCaller(true)
	logger := log.NewLogrusLogger(l, "main", fields)
	loggers[prefix] = &MyLogger{
		Logger: logger,
		level:  level,
		raw:    l,
	}
	logger.SetLevel(level)
	return logger.WithPrefix(prefix)
}

func SetLogLevel(prefix string, level log.Level) error {
	mu.Lock()
	defer mu.Unlock()
	if logger, found := loggers[prefix]; found {
		logger.level = level
		logger.Logger.SetLevel(level)
		return nil
	}
	return fmt.Errorf("logger [%v] not found", prefix)
}

// SetAllLogLevels changes every logger created so far and the default for new ones.
func SetAllLogLevels(level log.Level) {
	mu.Lock()
	defer mu.Unlock()
	DefaultLogLevel = level
	for _, logger := range loggers {
		logger.level = level
		logger.Logger.SetLevel(level)
	}
}

// SetLogFile redirects all loggers to a size-rotated file. An empty path
// restores stderr.
func SetLogFile(cfg LogFile) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Path == "" {
		output = os.Stderr
	} else {
		output = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}
	for _, logger := range loggers {
		logger.raw.SetOutput(output)
	}
}

// ParseLogLevel maps a config string onto a gosip log level.
func ParseLogLevel(s string) (log.Level, error) {
	l, err := logrus.ParseLevel(s)
	if err != nil {
		return DefaultLogLevel, err
	}
	return log.Level(l), nil
}

func GetLoggers() map[string]*MyLogger {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]*MyLogger, len(loggers))
	for k, v := range loggers {
		out[k] = v
	}
	return out
}
