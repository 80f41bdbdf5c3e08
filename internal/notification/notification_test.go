package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/notification"
)

func TestRender(t *testing.T) {
	data := notification.OrderData{
		OrderID:   "20250517abcdef0123",
		Recipient: "buyer@example.com",
		Items:     []notification.ItemLine{{ProductID: "mug", Quantity: 2, UnitPrice: 450}},
		Total:     900,
	}

	placed, err := notification.Render(notification.KindOrderPlaced, data)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", placed.Recipient)
	assert.Equal(t, "20250517abcdef0123", placed.OrderID)
	assert.Contains(t, placed.Body, "- mug x2 @ 450")
	assert.Contains(t, placed.Body, "Total: 900")

	subjects := map[string]bool{placed.Subject: true}
	for _, kind := range []notification.Kind{notification.KindOrderConfirmed, notification.KindOrderShipped, notification.KindOrderDelivered} {
		msg, err := notification.Render(kind, data)
		require.NoError(t, err)
		assert.Contains(t, msg.Body, data.OrderID)
		assert.Equal(t, kind, msg.Kind)
		subjects[msg.Subject] = true
	}
	assert.Len(t, subjects, 4, "every kind has its own subject")

	_, err = notification.Render("order.unknown", data)
	assert.Error(t, err)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg notification.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func TestDispatcher_SendsInBackground(t *testing.T) {
	sender := new(mockSender)
	msg := notification.Message{Kind: notification.KindOrderShipped, Recipient: "a@b.c", OrderID: "o1"}
	sender.On("Send", mock.Anything, msg).Return(nil).Once()

	d := notification.NewDispatcher(sender, time.Second)
	d.Dispatch(msg)

	require.NoError(t, d.Wait(context.Background()))
	sender.AssertExpectations(t)
}

func TestDispatcher_FailureIsSwallowed(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Twice()

	d := notification.NewDispatcher(sender, time.Second)
	d.Dispatch(notification.Message{OrderID: "o1"})
	d.Dispatch(notification.Message{OrderID: "o2"})

	require.NoError(t, d.Wait(context.Background()))
	sender.AssertExpectations(t)
}

type blockingSender struct {
	release chan struct{}
}

func (s blockingSender) Send(ctx context.Context, _ notification.Message) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcher_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	d := notification.NewDispatcher(blockingSender{release: release}, time.Minute)
	d.Dispatch(notification.Message{OrderID: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, d.Wait(context.Background()))
}

func TestDispatcher_SendTimeout(t *testing.T) {
	d := notification.NewDispatcher(blockingSender{release: make(chan struct{})}, 10*time.Millisecond)
	d.Dispatch(notification.Message{OrderID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, d.Wait(ctx), "the send deadline must free the goroutine")
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSender_Send(t *testing.T) {
	w := &recordingWriter{}
	s := notification.NewKafkaSender(w)
	msg := notification.Message{Kind: notification.KindOrderPlaced, Recipient: "buyer@example.com", Subject: "s", Body: "b", OrderID: "o1"}

	require.NoError(t, s.Send(context.Background(), msg))

	require.Len(t, w.messages, 1)
	assert.Equal(t, []byte("buyer@example.com"), w.messages[0].Key)
	var decoded notification.Message
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, msg, decoded)

	w.err = errors.New("broker unavailable")
	assert.Error(t, s.Send(context.Background(), msg))
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestAMQPSender_Send(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishWithContext", mock.Anything, "notifications", "email", false, false,
		mock.MatchedBy(func(p amqp.Publishing) bool {
			var decoded notification.Message
			return p.ContentType == "application/json" &&
				p.Type == string(notification.KindOrderDelivered) &&
				json.Unmarshal(p.Body, &decoded) == nil &&
				decoded.OrderID == "o9"
		}),
	).Return(nil).Once()

	s := notification.NewAMQPSender(pub, "notifications", "email")
	err := s.Send(context.Background(), notification.Message{Kind: notification.KindOrderDelivered, OrderID: "o9"})

	require.NoError(t, err)
	pub.AssertExpectations(t)
}
