package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jinmuyano/procnet/config"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// New builds the process logger. When cfg.Path is set every level is also
// written to its own file under that directory.
func New(cfg config.LogCfg, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(formatter(cfg.Format))

	if cfg.Path != "" {
		if err := addFileLogger(logger, cfg.Path, cfg.Format); err != nil {
			return nil, err
		}
	}
	return logger, nil
}

// WithRun tags every entry of one monitor run with a fresh run id.
func WithRun(logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("run", uuid.NewString())
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat}
}

func addFileLogger(logger *logrus.Logger, logPath, format string) error {
	if err := os.MkdirAll(logPath, 0o755); err != nil {
		return err
	}

	logger.AddHook(lfshook.NewHook(lfshook.PathMap{
		logrus.DebugLevel: filepath.Join(logPath, "debug.log"),
		logrus.InfoLevel:  filepath.Join(logPath, "info.log"),
		logrus.WarnLevel:  filepath.Join(logPath, "warn.log"),
		logrus.ErrorLevel: filepath.Join(logPath, "error.log"),
		logrus.FatalLevel: filepath.Join(logPath, "fatal.log"),
		logrus.PanicLevel: filepath.Join(logPath, "panic.log"),
	}, formatter(format)))
	return nil
}
