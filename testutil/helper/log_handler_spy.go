package helper

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LogHandlerSpy is a slog.Handler that captures log records for testing.
type LogHandlerSpy struct {
	records     []slog.Record
	mu          sync.Mutex
	logToStdout bool
}

// NewLogHandlerSpy creates a new LogHandlerSpy.
// Switchable to log to stdout, which helps when debugging tests.
func NewLogHandlerSpy(logToStdout bool) *LogHandlerSpy {
	return &LogHandlerSpy{
		records:     make([]slog.Record, 0),
		logToStdout: logToStdout,
	}
}

// Handle implements slog.Handler.
func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record.Clone())

	if s.logToStdout {
		_ = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}).Handle(ctx, record)
	}

	return nil
}

// Enabled implements slog.Handler, every level is captured.
func (s *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler.
func (s *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

// WithGroup implements slog.Handler.
func (s *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return s
}

// Records returns a copy of all captured log records.
func (s *LogHandlerSpy) Records() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]slog.Record, len(s.records))
	copy(records, s.records)

	return records
}

// Reset clears all captured log records.
func (s *LogHandlerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = s.records[:0]
}

// HasLog starts a fluent check for a record with the given level and message.
func (s *LogHandlerSpy) HasLog(level slog.Level, message string) *LogRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]slog.Record, 0)
	for _, record := range s.records {
		if record.Level == level && record.Message == message {
			matches = append(matches, record)
		}
	}

	return &LogRecordMatcher{records: matches}
}

// HasDebugLog is HasLog at debug level.
func (s *LogHandlerSpy) HasDebugLog(message string) *LogRecordMatcher {
	return s.HasLog(slog.LevelDebug, message)
}

// HasInfoLog is HasLog at info level.
func (s *LogHandlerSpy) HasInfoLog(message string) *LogRecordMatcher {
	return s.HasLog(slog.LevelInfo, message)
}

// HasErrorLog is HasLog at error level.
func (s *LogHandlerSpy) HasErrorLog(message string) *LogRecordMatcher {
	return s.HasLog(slog.LevelError, message)
}

// CountLogs returns the number of records with the given level and message.
func (s *LogHandlerSpy) CountLogs(level slog.Level, message string) int {
	return len(s.HasLog(level, message).records)
}

// AttrValues returns the values of key, rendered as strings, of all records with the given level and message.
func (s *LogHandlerSpy) AttrValues(level slog.Level, message, key string) []string {
	values := make([]string, 0)

	for _, record := range s.HasLog(level, message).records {
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key == key {
				values = append(values, attr.Value.String())
				return false
			}
			return true
		})
	}

	return values
}

// LogRecordMatcher narrows the matching records down by their attributes.
type LogRecordMatcher struct {
	records []slog.Record
}

// WithAttr keeps the records that carry key.
func (m *LogRecordMatcher) WithAttr(key string) *LogRecordMatcher {
	return m.filter(func(attr slog.Attr) bool {
		return attr.Key == key
	})
}

// WithAttrValue keeps the records whose attribute key renders as value.
func (m *LogRecordMatcher) WithAttrValue(key, value string) *LogRecordMatcher {
	return m.filter(func(attr slog.Attr) bool {
		return attr.Key == key && attr.Value.String() == value
	})
}

// WithDurationMS keeps the records with a non-negative duration_ms attribute.
func (m *LogRecordMatcher) WithDurationMS() *LogRecordMatcher {
	return m.filter(func(attr slog.Attr) bool {
		if attr.Key != "duration_ms" {
			return false
		}

		switch attr.Value.Kind() {
		case slog.KindFloat64:
			return attr.Value.Float64() >= 0
		case slog.KindInt64:
			return attr.Value.Int64() >= 0
		default:
			return false
		}
	})
}

// Assert reports whether any record matched all conditions.
func (m *LogRecordMatcher) Assert() bool {
	return len(m.records) > 0
}

func (m *LogRecordMatcher) filter(match func(attr slog.Attr) bool) *LogRecordMatcher {
	kept := make([]slog.Record, 0, len(m.records))

	for _, record := range m.records {
		found := false
		record.Attrs(func(attr slog.Attr) bool {
			if match(attr) {
				found = true
				return false
			}
			return true
		})

		if found {
			kept = append(kept, record)
		}
	}

	return &LogRecordMatcher{records: kept}
}
