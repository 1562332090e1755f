// Package diag provides the pluggable diagnostics sink MainyDB routes
// warnings and soft-failure notices through (auto-generated encryption keys,
// decrypt failures during a read). It wraps a slog logger behind an
// interface so tests can capture output instead of scraping stderr.
package diag

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/k0kubun/pp/v3"
)

// Sink receives diagnostic events. Warnf is used for conditions the spec
// calls out as soft failures (§4.8 key auto-generation, §7 decrypt-failure
// soft-fail); Infof is used for routine lifecycle notices; Dumpf pretty-
// prints an arbitrary value alongside a label, for tracing a malformed
// document or query at debug level.
type Sink interface {
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Dumpf(label string, v any)
}

// SlogSink adapts a *slog.Logger to Sink. It is the default sink used by a
// Store that is not given one explicitly.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink configures a text-handler slog.Logger on stderr, honoring the
// LOG_LEVEL environment variable: debug, info, warn, error (unknown/unset
// values default to info).
func NewSlogSink() *SlogSink {
	level := slog.LevelInfo
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch strings.ToLower(raw) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &SlogSink{logger: slog.New(handler)}
}

func (s *SlogSink) Warnf(format string, args ...any) {
	s.logger.Warn(sprintf(format, args...))
}

func (s *SlogSink) Infof(format string, args ...any) {
	s.logger.Info(sprintf(format, args...))
}

// Dumpf pretty-prints v via k0kubun/pp, the same way the teacher dumps a
// parse tree under debug logging.
func (s *SlogSink) Dumpf(label string, v any) {
	s.logger.Debug(label, "value", pp.Sprint(v))
}

// CapturingSink is a Sink that accumulates messages in memory instead of
// writing anywhere, so tests can assert on what was warned without capturing
// stderr (per spec §9: "route through a pluggable diagnostics sink so tests
// can capture it").
type CapturingSink struct {
	Warnings []string
	Infos    []string
	Dumps    []string
}

func NewCapturingSink() *CapturingSink {
	return &CapturingSink{}
}

func (s *CapturingSink) Warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, sprintf(format, args...))
}

func (s *CapturingSink) Infof(format string, args ...any) {
	s.Infos = append(s.Infos, sprintf(format, args...))
}

func (s *CapturingSink) Dumpf(label string, v any) {
	s.Dumps = append(s.Dumps, label+": "+pp.Sprint(v))
}

// Noop discards everything. Useful as a default in unit tests that don't
// care about diagnostics at all.
type Noop struct{}

func (Noop) Warnf(string, ...any) {}
func (Noop) Infof(string, ...any) {}
func (Noop) Dumpf(string, any)    {}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
