package timeextract

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jittakal/prismsink/pkg/record"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fallbackCounter struct {
	topics []string
}

func (c *fallbackCounter) IncTimestampFallbacks(topic string) {
	c.topics = append(c.topics, topic)
}

func testOptions(metrics FallbackRecorder) Options {
	return Options{
		Clock:   func() time.Time { return fixedNow },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
	}
}

func stringField(s *record.Schema, name string) *record.Schema {
	return s.WithField(name, record.Primitive(record.TypeString))
}

func TestRecordExtractor_Extract(t *testing.T) {
	eventSchema := stringField(record.NewStructSchema("event"), "timestamp")
	ocmSchema := stringField(record.NewStructSchema("ocm"), "timestamp")

	tests := []struct {
		name         string
		value        func() any
		want         time.Time
		wantFallback bool
	}{
		{
			name: "metric_date",
			value: func() any {
				s := stringField(record.NewStructSchema("m"), "metric_date")
				return record.NewStruct(s).Put("metric_date", "2024-03-15")
			},
			want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "metric_date wins over timestamp",
			value: func() any {
				s := stringField(stringField(record.NewStructSchema("m"), "timestamp"), "metric_date")
				return record.NewStruct(s).
					Put("timestamp", "2020-01-01T00:00:00Z").
					Put("metric_date", "2024-03-15")
			},
			want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "object change metadata",
			value: func() any {
				s := record.NewStructSchema("o").WithField("objectChangeMetadata", ocmSchema)
				return record.NewStruct(s).Put("objectChangeMetadata",
					record.NewStruct(ocmSchema).Put("timestamp", "2024-02-01T10:20:30.500Z"))
			},
			want: time.Date(2024, 2, 1, 10, 20, 30, 500_000_000, time.UTC),
		},
		{
			name: "sampleDate",
			value: func() any {
				s := stringField(record.NewStructSchema("s"), "sampleDate")
				return record.NewStruct(s).Put("sampleDate", "2023-11-30")
			},
			want: time.Date(2023, 11, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "event timestamp with offset",
			value: func() any {
				s := record.NewStructSchema("e").WithField("event", eventSchema)
				return record.NewStruct(s).Put("event",
					record.NewStruct(eventSchema).Put("timestamp", "2024-02-01T12:00:00+02:00"))
			},
			want: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "timestamp string",
			value: func() any {
				s := stringField(record.NewStructSchema("t"), "timestamp")
				return record.NewStruct(s).Put("timestamp", "2024-07-04T08:00:00Z")
			},
			want: time.Date(2024, 7, 4, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "timestamp millis",
			value: func() any {
				s := record.NewStructSchema("t").WithField("timestamp", record.Primitive(record.TypeInt64))
				return record.NewStruct(s).Put("timestamp", int64(1700000000123))
			},
			want: time.UnixMilli(1700000000123).UTC(),
		},
		{
			name: "date",
			value: func() any {
				s := stringField(record.NewStructSchema("d"), "date")
				return record.NewStruct(s).Put("date", "2022-01-01T00:00:00Z")
			},
			want: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "malformed metric_date",
			value: func() any {
				s := stringField(record.NewStructSchema("m"), "metric_date")
				return record.NewStruct(s).Put("metric_date", "15/03/2024")
			},
			wantFallback: true,
		},
		{
			name: "no candidate field",
			value: func() any {
				s := stringField(record.NewStructSchema("x"), "name")
				return record.NewStruct(s).Put("name", "x")
			},
			wantFallback: true,
		},
		{
			name: "nested value not a struct",
			value: func() any {
				s := stringField(record.NewStructSchema("e"), "event")
				return record.NewStruct(s).Put("event", "oops")
			},
			wantFallback: true,
		},
		{
			name:         "bare value",
			value:        func() any { return int64(5) },
			wantFallback: true,
		},
		{
			name:         "nil value",
			value:        func() any { return nil },
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &fallbackCounter{}
			e := NewRecordExtractor(testOptions(counter))

			got := e.Extract(&record.SinkRecord{Topic: "metrics", Value: tt.value()})

			want := tt.want
			if tt.wantFallback {
				want = fixedNow
			}
			if got != want.UnixMilli() {
				t.Errorf("Extract() = %d, want %d", got, want.UnixMilli())
			}
			if tt.wantFallback != (len(counter.topics) == 1) {
				t.Errorf("fallbacks = %v, wantFallback %v", counter.topics, tt.wantFallback)
			}
		})
	}
}

func TestRecordExtractor_DefaultsWithoutMetrics(t *testing.T) {
	e := NewRecordExtractor(Options{Clock: func() time.Time { return fixedNow }})
	if got := e.Extract(&record.SinkRecord{Topic: "t"}); got != fixedNow.UnixMilli() {
		t.Errorf("Extract() = %d, want %d", got, fixedNow.UnixMilli())
	}
}

func TestKafkaExtractor_Extract(t *testing.T) {
	counter := &fallbackCounter{}
	e := NewKafkaExtractor(testOptions(counter))

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := e.Extract(&record.SinkRecord{Topic: "a", Timestamp: ts}); got != ts.UnixMilli() {
		t.Errorf("Extract() = %d, want %d", got, ts.UnixMilli())
	}
	if got := e.Extract(&record.SinkRecord{Topic: "b"}); got != fixedNow.UnixMilli() {
		t.Errorf("Extract() = %d, want %d", got, fixedNow.UnixMilli())
	}
	if len(counter.topics) != 1 || counter.topics[0] != "b" {
		t.Errorf("fallbacks = %v, want [b]", counter.topics)
	}
}

func TestWallclockExtractor_Extract(t *testing.T) {
	e := NewWallclockExtractor(func() time.Time { return fixedNow })
	if got := e.Extract(&record.SinkRecord{Timestamp: time.Unix(0, 0)}); got != fixedNow.UnixMilli() {
		t.Errorf("Extract() = %d, want %d", got, fixedNow.UnixMilli())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: ""},
		{name: NameRecord},
		{name: NameKafka},
		{name: NameWallclock},
		{name: "header", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.name, testOptions(nil))
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && e == nil {
				t.Fatal("expected extractor")
			}
		})
	}
}
