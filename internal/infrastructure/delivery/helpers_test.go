package delivery

import (
	"context"
	"sync"
	"testing"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence/models"
	"github.com/itechsmart/sentinel/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func newTestRepository(t *testing.T) *persistence.GormMessageRepository {
	t.Helper()

	db, err := persistence.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.DB.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = db.Close() })

	return persistence.NewGormMessageRepository(db)
}

func submitTestMessage(t *testing.T, repo delivery.MessageRepository, fx *testutil.HL7Fixture, destination string, maxRetries int) *delivery.Message {
	t.Helper()
	msg, err := delivery.NewMessage("", fx.ADT(testutil.ADTOptions{}), "", destination, delivery.DefaultPriority, maxRetries)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), msg))
	return msg
}

// fakeSender answers every message through fn
type fakeSender struct {
	mu   sync.Mutex
	fn   func(msg *delivery.Message) (*delivery.Ack, error)
	sent []string
}

func (s *fakeSender) Send(_ context.Context, msg *delivery.Message) (*delivery.Ack, error) {
	s.mu.Lock()
	s.sent = append(s.sent, msg.ID)
	s.mu.Unlock()
	return s.fn(msg)
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func ackWith(code string) func(msg *delivery.Message) (*delivery.Ack, error) {
	return func(msg *delivery.Message) (*delivery.Ack, error) {
		return delivery.ParseAck(testutil.ACK(msg.ControlID, code, "test"))
	}
}

// eventRecorder captures published events
type eventRecorder struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (r *eventRecorder) Publish(_ context.Context, events ...shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

// outcomeCounter implements OutcomeRecorder
type outcomeCounter struct {
	mu       sync.Mutex
	success  map[string]int
	failures map[string]int
}

func newOutcomeCounter() *outcomeCounter {
	return &outcomeCounter{success: map[string]int{}, failures: map[string]int{}}
}

func (c *outcomeCounter) RecordOutcome(destination string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.success[destination]++
	} else {
		c.failures[destination]++
	}
}
