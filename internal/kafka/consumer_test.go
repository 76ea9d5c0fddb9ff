package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

type mockMetrics struct {
	mu        sync.Mutex
	consumed  int
	commits   map[string]int
	assigned  map[string]float64
	rebalance int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{commits: map[string]int{}, assigned: map[string]float64{}}
}

func (m *mockMetrics) IncMessagesConsumed(topic string, partition int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed++
}

func (m *mockMetrics) IncRebalances(groupID string) { m.rebalance++ }

func (m *mockMetrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[status]++
}

func (m *mockMetrics) ObserveRebalanceDuration(groupID string, duration float64) {}

func (m *mockMetrics) ObserveCommitLatency(topic string, partition int32, duration float64) {}

func (m *mockMetrics) SetPartitionsAssigned(topic string, count float64) { m.assigned[topic] = count }

// fakeSession records offsets marked on a consumer group session.
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx       context.Context
	mu        sync.Mutex
	marked    map[string]int64
	commits   int
	claims    map[string][]int32
	markedMsg []*sarama.ConsumerMessage
}

func newFakeSession(ctx context.Context) *fakeSession {
	return &fakeSession{ctx: ctx, marked: map[string]int64{}, claims: map[string][]int32{"metrics": {0, 1}}}
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) Claims() map[string][]int32 { return s.claims }
func (s *fakeSession) Commit() { s.commits++ }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedMsg = append(s.markedMsg, msg)
}

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[record.PartitionID{Topic: topic, Partition: partition}.String()] = offset
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "metrics" }
func (c *fakeClaim) Partition() int32 { return 1 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ConsumerConfig
		wantErr bool
	}{
		{"valid", ConsumerConfig{BootstrapServers: []string{"localhost:9092"}, GroupID: "g"}, false},
		{"no servers", ConsumerConfig{GroupID: "g"}, true},
		{"no group", ConsumerConfig{BootstrapServers: []string{"localhost:9092"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSaramaConfig(t *testing.T) {
	cfg, err := newSaramaConfig(ConsumerConfig{
		AutoOffsetReset:     "earliest",
		SessionTimeoutMS:    10000,
		HeartbeatIntervalMS: 3000,
		ChannelBufferSize:   512,
	})
	if err != nil {
		t.Fatalf("newSaramaConfig() error = %v", err)
	}

	if cfg.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Errorf("Offsets.Initial = %d", cfg.Consumer.Offsets.Initial)
	}
	if cfg.Consumer.Group.Session.Timeout != 10*time.Second {
		t.Errorf("Session.Timeout = %v", cfg.Consumer.Group.Session.Timeout)
	}
	if cfg.Consumer.Group.Heartbeat.Interval != 3*time.Second {
		t.Errorf("Heartbeat.Interval = %v", cfg.Consumer.Group.Heartbeat.Interval)
	}
	if cfg.Consumer.MaxProcessingTime != 5*time.Minute {
		t.Errorf("MaxProcessingTime = %v", cfg.Consumer.MaxProcessingTime)
	}
	if cfg.ChannelBufferSize != 512 {
		t.Errorf("ChannelBufferSize = %d", cfg.ChannelBufferSize)
	}
	if cfg.Consumer.Offsets.AutoCommit.Enable {
		t.Error("auto commit should follow the config")
	}
}

func TestOffsetInitial(t *testing.T) {
	tests := []struct {
		reset string
		want  int64
	}{
		{"earliest", sarama.OffsetOldest},
		{"latest", sarama.OffsetNewest},
		{"", sarama.OffsetNewest},
	}
	for _, tt := range tests {
		if got := offsetInitial(tt.reset); got != tt.want {
			t.Errorf("offsetInitial(%q) = %d, want %d", tt.reset, got, tt.want)
		}
	}
}

func TestMessageOf(t *testing.T) {
	ts := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	msg := &sarama.ConsumerMessage{
		Topic:     "metrics",
		Partition: 2,
		Offset:    77,
		Key:       []byte("k"),
		Value:     []byte(`{"a":1}`),
		Timestamp: ts,
		Headers:   []*sarama.RecordHeader{{Key: []byte("h"), Value: []byte("v")}, nil},
	}

	committed := false
	got := messageOf(msg, func() error { committed = true; return nil })

	md := got.Metadata
	if md.Topic != "metrics" || md.Partition != 2 || md.Offset != 77 || !md.Timestamp.Equal(ts) {
		t.Errorf("metadata = %+v", md)
	}
	if string(md.Key) != "k" || md.Headers["h"] != "v" || len(md.Headers) != 1 {
		t.Errorf("key/headers = %q %v", md.Key, md.Headers)
	}
	if string(got.Value) != `{"a":1}` {
		t.Errorf("Value = %s", got.Value)
	}
	if err := got.CommitFunc(); err != nil || !committed {
		t.Error("CommitFunc not wired")
	}
	if messageOf(&sarama.ConsumerMessage{}, nil).Metadata.Headers != nil {
		t.Error("expected nil headers for a message without headers")
	}
}

func TestSaramaConsumer_Subscribe(t *testing.T) {
	c := newConsumer(nil, ConsumerConfig{GroupID: "g"}, testLogger(), nil)

	if err := c.Subscribe(context.Background(), nil); err == nil {
		t.Error("expected error for empty topic list")
	}
	if err := c.Subscribe(context.Background(), []string{"metrics"}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(c.topics) != 1 || c.topics[0] != "metrics" {
		t.Errorf("topics = %v", c.topics)
	}

	c.closed = true
	if err := c.Subscribe(context.Background(), []string{"metrics"}); err != errors.ErrConsumerClosed {
		t.Errorf("Subscribe() after close = %v", err)
	}
}

func TestSaramaConsumer_Commit(t *testing.T) {
	metrics := newMockMetrics()
	c := newConsumer(nil, ConsumerConfig{GroupID: "g"}, testLogger(), metrics)
	pid := record.PartitionID{Topic: "metrics", Partition: 1}

	if err := c.Commit(context.Background(), pid, 10); err == nil {
		t.Error("expected error for an unassigned partition")
	}
	if metrics.commits["revoked"] != 1 {
		t.Errorf("commits = %v", metrics.commits)
	}

	session := newFakeSession(context.Background())
	c.claim(pid, session)

	if err := c.Commit(context.Background(), pid, 10); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if session.marked[pid.String()] != 10 {
		t.Errorf("marked = %v", session.marked)
	}
	if session.commits != 1 {
		t.Errorf("session commits = %d, want 1", session.commits)
	}
	if metrics.commits["success"] != 1 {
		t.Errorf("commits = %v", metrics.commits)
	}

	c.release(pid, session)
	if err := c.Commit(context.Background(), pid, 11); err == nil {
		t.Error("expected error after release")
	}
}

func TestSaramaConsumer_CommitAutoCommit(t *testing.T) {
	c := newConsumer(nil, ConsumerConfig{GroupID: "g", EnableAutoCommit: true}, testLogger(), nil)
	pid := record.PartitionID{Topic: "metrics", Partition: 0}
	session := newFakeSession(context.Background())
	c.claim(pid, session)

	if err := c.Commit(context.Background(), pid, 5); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if session.commits != 0 {
		t.Error("auto commit mode should only mark offsets")
	}
}

func TestConsumerGroupHandler_ConsumeClaim(t *testing.T) {
	metrics := newMockMetrics()
	c := newConsumer(nil, ConsumerConfig{GroupID: "g"}, testLogger(), metrics)

	out := make(chan *event.ConsumedMessage, 10)
	h := &consumerGroupHandler{consumer: c, messages: out, ready: c.ready}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := newFakeSession(ctx)

	if err := h.Setup(session); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	select {
	case <-c.ready:
	default:
		t.Fatal("Setup() should signal ready")
	}
	if metrics.assigned["metrics"] != 2 || metrics.rebalance != 1 {
		t.Errorf("assigned = %v, rebalances = %d", metrics.assigned, metrics.rebalance)
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "metrics", Partition: 1, Offset: 3, Value: []byte("{}")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "metrics", Partition: 1, Offset: 4, Value: []byte("{}")}
	close(claim.messages)

	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("forwarded %d messages, want 2", len(out))
	}
	first := <-out
	if first.Metadata.Offset != 3 {
		t.Errorf("first offset = %d", first.Metadata.Offset)
	}
	if err := first.CommitFunc(); err != nil || len(session.markedMsg) != 1 {
		t.Error("CommitFunc should mark the message on the session")
	}
	if metrics.consumed != 2 {
		t.Errorf("consumed = %d", metrics.consumed)
	}

	// The partition is released when the claim ends.
	if _, ok := c.sessions[record.PartitionID{Topic: "metrics", Partition: 1}]; ok {
		t.Error("session not released after ConsumeClaim")
	}
}

func TestConsumerGroupHandler_ConsumeClaimCancelled(t *testing.T) {
	c := newConsumer(nil, ConsumerConfig{GroupID: "g"}, testLogger(), nil)
	h := &consumerGroupHandler{consumer: c, messages: make(chan *event.ConsumedMessage), ready: c.ready}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(newFakeSession(ctx), claim) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ConsumeClaim() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after cancellation")
	}
}
