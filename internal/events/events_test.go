package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-be/internal/order"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// fakeReader serves queued messages, then blocks until ctx is canceled.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

// MockPurger is a mock implementation of Purger
type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) PurgeForDeletedProduct(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPurger) PurgeForDeletedSize(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPurger) PurgeForDeletedBrand(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func message(offset int64, value string) kafka.Message {
	return kafka.Message{Offset: offset, Value: []byte(value)}
}

func TestPublisher_OrderStatusChanged(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w)
	change := order.StatusChange{
		OrderID:         5,
		PaymentID:       "tok",
		PaymentIntentID: "pi_1",
		Status:          order.StatusPaidFor,
		OccurredAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.OrderStatusChanged(context.Background(), change))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "tok", string(w.msgs[0].Key))

	var got order.StatusChange
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, change, got)
	assert.Equal(t, "source", w.msgs[0].Headers[0].Key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	p := newPublisher(&fakeWriter{err: errors.New("broker down")})

	err := p.OrderStatusChanged(context.Background(), order.StatusChange{PaymentID: "tok"})
	assert.ErrorContains(t, err, "broker down")
}

func TestConsumer_Run(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		message(1, `{"type":"product","id":10}`),
		message(2, `not json`),
		message(3, `{"type":"size","id":110}`),
		message(4, `{"type":"warehouse","id":1}`),
		message(5, `{"type":"brand","id":7}`),
	}}
	purger := new(MockPurger)
	purger.On("PurgeForDeletedProduct", mock.Anything, int64(10)).Return(int64(2), nil)
	purger.On("PurgeForDeletedSize", mock.Anything, int64(110)).Return(int64(0), nil)
	purger.On("PurgeForDeletedBrand", mock.Anything, int64(7)).Return(int64(1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newConsumer(r, purger).Run(ctx) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 5
	}, time.Second, 10*time.Millisecond)
	cancel()

	assert.NoError(t, <-done)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, r.committed)
	assert.True(t, r.closed)
	purger.AssertExpectations(t)
}

func TestConsumer_PurgeFailureStops(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{message(1, `{"type":"brand","id":7}`)}}
	purger := new(MockPurger)
	purger.On("PurgeForDeletedBrand", mock.Anything, int64(7)).Return(int64(0), errors.New("db down"))

	err := newConsumer(r, purger).Run(context.Background())

	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, r.committed)
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return sr
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublisher_PropagatesTrace(t *testing.T) {
	sr := installRecorder(t)
	w := &fakeWriter{}
	p := newPublisher(w)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "ApplyPaymentSucceeded")
	require.NoError(t, p.OrderStatusChanged(ctx, order.StatusChange{OrderID: 5, PaymentID: "tok", Status: order.StatusPaidFor}))
	parent.End()

	require.Len(t, w.msgs, 1)
	traceparent := headerValue(w.msgs[0], "traceparent")
	assert.Contains(t, traceparent, parent.SpanContext().TraceID().String())

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "PublishOrderStatusChanged", spans[0].Name())
	assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind())
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Contains(t, traceparent, spans[0].SpanContext().SpanID().String())
}

func TestConsumer_ContinuesTrace(t *testing.T) {
	sr := installRecorder(t)
	msg := message(1, `{"type":"brand","id":7}`)
	msg.Headers = append(msg.Headers, kafka.Header{
		Key:   "traceparent",
		Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"),
	})
	r := &fakeReader{queue: []kafka.Message{msg}}
	purger := new(MockPurger)
	purger.On("PurgeForDeletedBrand", mock.Anything, int64(7)).Return(int64(1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newConsumer(r, purger).Run(ctx) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ConsumeCatalogDeletion", spans[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}
