package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/procerr"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	durable    bool
	published  []amqp.Publishing
	keys       []string
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, name)
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

var stamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestAMQPPublisher_DeclaresDurableDefaultQueue(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultQueue}, ch.declared)
	assert.True(t, ch.durable)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_DeclareFailureIsFatal(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newAMQPPublisher(ch, "q")
	assert.True(t, procerr.IsFatal(err))
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_PublishesPersistentJSON(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "canopy.test")
	require.NoError(t, err)

	cloud := 12.5
	ev := NewEvent(TypeDateProcessed, "run-1", stamp)
	ev.PlotID = "plot-1"
	ev.Date = "2024-05-01"
	ev.Indices = []string{"NDVI", "NDRE"}
	ev.CloudCoverage = &cloud
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "canopy.test", ch.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, ev.ID, msg.MessageId)
	assert.Equal(t, "date_processed", msg.Type)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "plot-1", got.PlotID)
	assert.Equal(t, []string{"NDVI", "NDRE"}, got.Indices)
	require.NotNil(t, got.CloudCoverage)
	assert.InDelta(t, 12.5, *got.CloudCoverage, 1e-9)

	published, failed := p.Counts()
	assert.Equal(t, int64(1), published)
	assert.Zero(t, failed)
}

func TestAMQPPublisher_CountsFailures(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "q")
	require.NoError(t, err)
	ch.publishErr = errors.New("channel closed")

	assert.Error(t, p.Publish(context.Background(), NewEvent(TypeRunCompleted, "run-1", stamp)))
	_, failed := p.Counts()
	assert.Equal(t, int64(1), failed)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	t.Parallel()
	a := NewEvent(TypePlotCompleted, "r", stamp)
	b := NewEvent(TypePlotCompleted, "r", stamp)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)
}

func TestMemory_OfType(t *testing.T) {
	t.Parallel()
	var m Memory
	ctx := context.Background()
	require.NoError(t, m.Publish(ctx, NewEvent(TypeDateProcessed, "r", stamp)))
	require.NoError(t, m.Publish(ctx, NewEvent(TypeDateFailed, "r", stamp)))
	require.NoError(t, m.Publish(ctx, NewEvent(TypeDateProcessed, "r", stamp)))

	assert.Len(t, m.Events(), 3)
	assert.Len(t, m.OfType(TypeDateProcessed), 2)
	assert.Empty(t, m.OfType(TypeRunCompleted))
}
