package unittest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevelEnv selects the level of harness logs printed during tests.
const LogLevelEnv = "QUORUMNET_TEST_LOG"

var logLevel = flag.String("log-level", "", "print harness logs at or above the given level")

// Logger returns the logger of the test itself. Its output is discarded
// unless -log-level or QUORUMNET_TEST_LOG selects a level.
func Logger() zerolog.Logger {
	return LoggerFor("test")
}

// LoggerFor returns a test logger whose entries carry the given component,
// for tests that drive several modules and need to tell their logs apart.
func LoggerFor(component string) zerolog.Logger {
	level, ok := testLogLevel()
	if !ok {
		return zerolog.New(io.Discard).Level(zerolog.Disabled)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func testLogLevel() (zerolog.Level, bool) {
	name := *logLevel
	if name == "" {
		name = os.Getenv(LogLevelEnv)
	}
	if name == "" {
		return zerolog.Disabled, false
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.DebugLevel, true
	}
	return level, true
}

// LogRecorder keeps every entry written to its loggers so tests can assert
// on what a module reported.
type LogRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

func (r *LogRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Logger returns a trace level logger recording into r.
func (r *LogRecorder) Logger(component string) zerolog.Logger {
	return zerolog.New(r).
		Level(zerolog.TraceLevel).
		With().
		Str("component", component).
		Logger()
}

// Entries decodes the recorded entries in write order. Lines that are not
// JSON objects are skipped.
func (r *LogRecorder) Entries() []map[string]interface{} {
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		entry := make(map[string]interface{})
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Messages returns the messages recorded at the given level.
func (r *LogRecorder) Messages(level zerolog.Level) []string {
	var msgs []string
	for _, entry := range r.Entries() {
		if entry[zerolog.LevelFieldName] == level.String() {
			msg, _ := entry[zerolog.MessageFieldName].(string)
			msgs = append(msgs, msg)
		}
	}
	return msgs
}
