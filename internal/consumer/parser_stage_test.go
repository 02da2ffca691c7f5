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

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
)

const (
	testTimestamp int64 = 1766702552000
)

// MockMessageParser is a mock implementation of MessageParser
type MockMessageParser struct {
	mock.Mock
}

func (m *MockMessageParser) Parse(body []byte) (*domain.ExperimentEvent, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExperimentEvent), args.Error(1)
}

func TestParserStage_Start_Success(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	log := zap.NewNop()

	parserStage := NewParserStage(mockConsumer, mockParser, log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(&sqs.DeleteMessageOutput{}, nil).Maybe()

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{"event_id": "evt_1"}`),
		ReceiptHandle: aws.String("receipt-1"),
	}

	event := &domain.ExperimentEvent{
		EventID:    "evt_1",
		TestID:     "tst_1",
		VariantID:  "var_a",
		SessionID:  "sess_1",
		EventType:  domain.EventTypeExposure,
		OccurredAt: time.UnixMilli(testTimestamp).UTC(),
	}

	mockParser.On("Parse", []byte(`{"event_id": "evt_1"}`)).Return(event, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)

	go parserStage.Start(ctx, in, out)

	in <- message
	close(in)

	envelope := <-out

	assert.NotNil(t, envelope)
	assert.Equal(t, "evt_1", envelope.Event.EventID)
	assert.Equal(t, "var_a", envelope.Event.VariantID)

	mockParser.AssertExpectations(t)
}

func TestParserStage_Start_MalformedMessageIsDeleted(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	log := zap.NewNop()

	parserStage := NewParserStage(mockConsumer, mockParser, log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(&sqs.DeleteMessageOutput{}, nil)

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{invalid json}`),
		ReceiptHandle: aws.String("receipt-1"),
	}

	mockParser.On("Parse", []byte(`{invalid json}`)).Return(nil, errors.New("invalid JSON format"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)

	go parserStage.Start(ctx, in, out)

	in <- message
	close(in)

	// Output closes once the input drains; no envelope may come through.
	for envelope := range out {
		t.Fatalf("expected no envelope for malformed message, got: %v", envelope)
	}

	mockParser.AssertExpectations(t)
	mockConsumer.AssertCalled(t, "DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput"))
}

func TestParserStage_Start_DeleteMessageFailure(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	log := zap.NewNop()

	parserStage := NewParserStage(mockConsumer, mockParser, log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(nil, errors.New("failed to delete message from SQS"))

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{invalid}`),
		ReceiptHandle: aws.String("receipt-1"),
	}

	mockParser.On("Parse", []byte(`{invalid}`)).Return(nil, errors.New("invalid JSON"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)

	go parserStage.Start(ctx, in, out)

	in <- message
	close(in)

	for envelope := range out {
		t.Fatalf("expected no envelope, got: %v", envelope)
	}

	mockParser.AssertExpectations(t)
	mockConsumer.AssertCalled(t, "DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput"))
}

func TestParserStage_Start_ContextCancellation(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	log := zap.NewNop()

	parserStage := NewParserStage(mockConsumer, mockParser, log)

	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan types.Message)
	out := make(chan *Envelope, 1)

	cancel()

	parserStage.Start(ctx, in, out)

	_, ok := <-out
	assert.False(t, ok, "output channel should be closed after context cancellation")
}

func TestParserStage_Start_AckDeletesMessage(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	log := zap.NewNop()

	parserStage := NewParserStage(mockConsumer, mockParser, log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(input *sqs.DeleteMessageInput) bool {
		return aws.ToString(input.ReceiptHandle) == "receipt-1"
	})).Return(&sqs.DeleteMessageOutput{}, nil)

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{"event_id": "evt_1"}`),
		ReceiptHandle: aws.String("receipt-1"),
	}

	event := &domain.ExperimentEvent{EventID: "evt_1", EventType: domain.EventTypeExposure}
	mockParser.On("Parse", mock.Anything).Return(event, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)

	go parserStage.Start(ctx, in, out)

	in <- message
	close(in)

	envelope := <-out
	assert.NoError(t, envelope.Ack(ctx))
	assert.NoError(t, envelope.Nack(ctx), "nack relies on the visibility timeout and never fails")

	mockConsumer.AssertNumberOfCalls(t, "DeleteMessage", 1)
}

func TestParserStage_Start_MultipleMessages(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	log := zap.NewNop()

	parserStage := NewParserStage(mockConsumer, mockParser, log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/experiment-events")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(&sqs.DeleteMessageOutput{}, nil).Maybe()

	messages := []types.Message{
		{
			MessageId:     aws.String("msg-1"),
			Body:          aws.String(`{"event_id": "evt_1"}`),
			ReceiptHandle: aws.String("receipt-1"),
		},
		{
			MessageId:     aws.String("msg-2"),
			Body:          aws.String(`{invalid}`),
			ReceiptHandle: aws.String("receipt-2"),
		},
		{
			MessageId:     aws.String("msg-3"),
			Body:          aws.String(`{"event_id": "evt_3"}`),
			ReceiptHandle: aws.String("receipt-3"),
		},
	}

	event1 := &domain.ExperimentEvent{EventID: "evt_1", EventType: domain.EventTypeExposure}
	event3 := &domain.ExperimentEvent{EventID: "evt_3", EventType: domain.EventTypeConversion}

	mockParser.On("Parse", []byte(`{"event_id": "evt_1"}`)).Return(event1, nil)
	mockParser.On("Parse", []byte(`{invalid}`)).Return(nil, errors.New("parse error"))
	mockParser.On("Parse", []byte(`{"event_id": "evt_3"}`)).Return(event3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 3)
	out := make(chan *Envelope, 3)

	go parserStage.Start(ctx, in, out)

	for _, msg := range messages {
		in <- msg
	}
	close(in)

	var envelopes []*Envelope
	for envelope := range out {
		envelopes = append(envelopes, envelope)
	}

	// Only the valid messages come through; the malformed one is deleted.
	assert.Len(t, envelopes, 2)
	assert.Equal(t, "evt_1", envelopes[0].Event.EventID)
	assert.Equal(t, "evt_3", envelopes[1].Event.EventID)

	mockParser.AssertExpectations(t)
	mockConsumer.AssertNumberOfCalls(t, "DeleteMessage", 1)
}
