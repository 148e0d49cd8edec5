package sink

import (
	pnet "github.com/jinmuyano/procnet"
	"github.com/sirupsen/logrus"
)

// Log writes one entry per process row, so report history ends up wherever
// the logger's hooks send it.
type Log struct {
	logger logrus.FieldLogger
}

func NewLog(logger logrus.FieldLogger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Emit(r pnet.Report) error {
	l.logger.WithField("processes", len(r.Rows)).Info("traffic report")
	for _, row := range r.Rows {
		l.logger.WithFields(logrus.Fields{
			"pid":            row.PID,
			"name":           row.Name,
			"create_time":    row.CreateTime,
			"upload":         FormatSize(float64(row.Upload)),
			"download":       FormatSize(float64(row.Download)),
			"upload_speed":   FormatRate(row.UploadSpeed, r.Interval),
			"download_speed": FormatRate(row.DownloadSpeed, r.Interval),
		}).Info("process traffic")
	}
	return nil
}
