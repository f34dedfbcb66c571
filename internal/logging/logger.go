// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level     string
	ToFile    bool
	FilePath  string
	Console   io.Writer
	NoColor   bool
	MaxSizeMB int
}

// Sink is the writer behind every logger built by New. Its level can change at
// runtime, which child loggers created with Component pick up too.
type Sink struct {
	out   zerolog.LevelWriter
	file  io.Closer
	level atomic.Int32
}

func (s *Sink) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *Sink) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < s.Level() {
		return len(p), nil
	}
	return s.out.WriteLevel(l, p)
}

func (s *Sink) SetLevel(level string) {
	s.level.Store(int32(ParseLevel(level)))
}

func (s *Sink) Level() zerolog.Level {
	return zerolog.Level(s.level.Load())
}

// Close flushes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// New returns a logger writing to the console and, when requested, to a
// rotating log file.
func New(opts Options) (zerolog.Logger, *Sink) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime, NoColor: opts.NoColor},
	}

	sink := &Sink{}
	if opts.ToFile && opts.FilePath != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 25
		}
		lj := &lumberjack.Logger{Filename: opts.FilePath, MaxSize: maxSize, MaxBackups: 3, Compress: true}
		writers = append(writers, lj)
		sink.file = lj
	}
	sink.out = zerolog.MultiLevelWriter(writers...)
	sink.SetLevel(opts.Level)

	logger := zerolog.New(sink).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Logger()

	return logger, sink
}

// ParseLevel accepts the level names of the config file (DEBUG, INFO, WARNING, ERROR, CRITICAL).
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// MaskProxy renders a proxy for logs with any password replaced by "xxxxx".
func MaskProxy(proxy string) string {
	if proxy == "" {
		return "None"
	}

	raw := proxy
	bare := !strings.Contains(proxy, "://")
	if bare {
		raw = "http://" + proxy
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "****"
	}

	out := u.Redacted()
	if bare {
		out = strings.TrimPrefix(out, "http://")
	}
	return out
}
