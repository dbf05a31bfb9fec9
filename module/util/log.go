package util

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// LogProgressFunc adds to the progress of a task. It can be called
// concurrently; negative values are ignored.
type LogProgressFunc func(add int)

type LogProgressConfig struct {
	// Message prefixes every progress line.
	Message string
	// Total is the progress value of a finished task.
	Total int
	// Ticks is the number of lines logged between 0% and 100%, both included.
	Ticks int
}

// DefaultLogProgressConfig logs at every quarter of the task.
func DefaultLogProgressConfig(message string, total int) LogProgressConfig {
	return LogProgressConfig{
		Message: message,
		Total:   total,
		Ticks:   5,
	}
}

// LogProgress logs 0% immediately and then a line every time the progress
// crosses one of the configured ticks, with an eta assuming linear progress.
func LogProgress(log zerolog.Logger, config LogProgressConfig) LogProgressFunc {
	start := time.Now()
	total := int64(config.Total)
	steps := int64(config.Ticks - 1)
	if steps < 1 {
		steps = 1
	}
	if total > 0 && steps > total {
		steps = total
	}

	var mu sync.Mutex
	emit := func(current int64) {
		mu.Lock()
		defer mu.Unlock()

		elapsed := time.Since(start)
		ev := log.Info().
			Int64("done", current).
			Int64("total", total).
			Dur("elapsed", elapsed.Round(time.Millisecond))
		if current > 0 && current < total {
			eta := time.Duration(float64(elapsed) / float64(current) * float64(total-current))
			ev = ev.Dur("eta", eta.Round(time.Millisecond))
		}
		percent := float64(100)
		if total > 0 {
			percent = float64(current) / float64(total) * 100
		}
		ev.Msgf("%s progress %.1f%%", config.Message, percent)
	}

	// tick returns the index of the last tick reached at current
	tick := func(current int64) int64 {
		if total <= 0 {
			return steps
		}
		if current >= total {
			return steps
		}
		return current * steps / total
	}

	emit(0)
	current := atomic.NewInt64(0)
	return func(add int) {
		if add <= 0 {
			return
		}
		now := current.Add(int64(add))
		before := now - int64(add)
		if tick(now) > tick(before) {
			emit(now)
		}
	}
}
