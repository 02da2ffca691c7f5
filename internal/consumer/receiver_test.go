package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockQueueConsumer is a mock implementation of queue.QueueConsumer
type MockQueueConsumer struct {
	mock.Mock
}

func (m *MockQueueConsumer) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) QueueURL() string {
	args := m.Called()
	return args.String(0)
}

func newTestReceiver(mockConsumer *MockQueueConsumer) *Receiver {
	return NewReceiver(mockConsumer, ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}, zap.NewNop())
}

func TestReceiver_Start_ForwardsMessages(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")

	messages := []types.Message{
		{
			MessageId: aws.String("msg-1"),
			Body:      aws.String(`{"event_id": "evt_1"}`),
		},
		{
			MessageId: aws.String("msg-2"),
			Body:      aws.String(`{"event_id": "evt_2"}`),
		},
	}

	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&sqs.ReceiveMessageOutput{Messages: messages}, nil).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := make(chan types.Message, 10)
	go receiver.Start(ctx, out)

	var received []types.Message
	timeout := time.After(200 * time.Millisecond)
	done := false

	for !done {
		select {
		case msg, ok := <-out:
			if !ok {
				done = true
				break
			}
			received = append(received, msg)
		case <-timeout:
			done = true
		}
	}

	assert.Len(t, received, 2)
	assert.Equal(t, "msg-1", aws.ToString(received[0].MessageId))
	assert.Equal(t, "msg-2", aws.ToString(received[1].MessageId))
}

func TestReceiver_Start_ReceiveErrorRetries(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")

	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(nil, errors.New("SQS connection error")).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := make(chan types.Message, 10)
	go receiver.Start(ctx, out)

	<-ctx.Done()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected no messages after a receive error")
		}
	default:
	}

	mockConsumer.AssertCalled(t, "ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput"))
}

func TestReceiver_Start_ContextCancellation(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan types.Message, 10)

	cancel()

	receiver.Start(ctx, out)

	_, ok := <-out
	assert.False(t, ok, "channel should be closed after context cancellation")
}

func TestReceiver_Start_EmptyQueue(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	receiver := newTestReceiver(mockConsumer)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := make(chan types.Message, 10)
	go receiver.Start(ctx, out)

	<-ctx.Done()

	select {
	case msg, ok := <-out:
		if ok {
			t.Fatalf("expected no messages but got: %v", msg)
		}
	default:
	}

	mockConsumer.AssertCalled(t, "ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput"))
}
