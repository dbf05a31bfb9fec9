package cmd

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/onflow/quorumnet/module/lifecycle"
)

// levelWriter drops events below level. It lets the console show less than
// the log file while both share one logger.
type levelWriter struct {
	io.Writer
	level zerolog.Level
}

func (w levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.level {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// newLogger logs to the console at the given level and everything, as JSON,
// to the run's log file in dir.
func newLogger(dir string, level zerolog.Level) (zerolog.Logger, io.Closer, error) {
	file, err := os.OpenFile(filepath.Join(dir, lifecycle.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	console := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
		w.TimeFormat = time.StampMilli
	})
	writer := zerolog.MultiLevelWriter(levelWriter{Writer: console, level: level}, file)

	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log := zerolog.New(writer).Level(zerolog.TraceLevel).With().Timestamp().Logger()
	return log, file, nil
}
