package logging

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

type recordedLog struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingWatermillLogger struct {
	logs   *[]recordedLog
	fields watermill.LogFields
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	logs := make([]recordedLog, 0)
	return &recordingWatermillLogger{logs: &logs}
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	merged := make(watermill.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.logs = append(*r.logs, recordedLog{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingWatermillLogger{logs: r.logs, fields: merged}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "registry"})
	logger.Info("info", nil)

	boom := errors.New("boom")
	child := logger.With(LogFields{"connection_id": "abc"})
	child.Error("delivery failed", boom, LogFields{"event_type": "BID_PLACED"})

	logs := *base.logs
	if len(logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(logs))
	}
	if logs[0].level != "debug" || logs[0].fields["component"] != "registry" {
		t.Fatalf("unexpected first log: %#v", logs[0])
	}
	if logs[2].err != boom {
		t.Fatalf("expected error to be forwarded, got %#v", logs[2])
	}
	if logs[2].fields["connection_id"] != "abc" || logs[2].fields["event_type"] != "BID_PLACED" {
		t.Fatalf("expected merged fields, got %#v", logs[2].fields)
	}
}

func TestNewWatermillAdapterRoundTrip(t *testing.T) {
	base := newRecordingWatermillLogger()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))

	adapter.Info("via adapter", watermill.LogFields{"topic": "conn.abc"})
	child := adapter.With(watermill.LogFields{"scope": "pump"})
	child.Debug("pump started", nil)

	logs := *base.logs
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].fields["topic"] != "conn.abc" {
		t.Fatalf("expected topic field, got %#v", logs[0].fields)
	}
	if logs[1].fields["scope"] != "pump" {
		t.Fatalf("expected scope field to survive With, got %#v", logs[1].fields)
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assertPanics := func(name string, fn func()) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected panic from %s", name)
			}
		}()
		fn()
	}

	assertPanics("NewSlogServiceLogger", func() { NewSlogServiceLogger(nil) })
	assertPanics("NewWatermillServiceLogger", func() { NewWatermillServiceLogger(nil) })
	assertPanics("NewWatermillAdapter", func() { NewWatermillAdapter(nil) })
}
