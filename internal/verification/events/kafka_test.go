package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "verifications")
	assert.Error(t, err)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestNewKafkaPublisherDoesNotDial(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"127.0.0.1:1"}, "verifications")
	require.NoError(t, err)
	p.Close()
}

func TestPublishUnreachableBrokerTimesOut(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"127.0.0.1:1"}, "verifications",
		WithDeliveryTimeout(300*time.Millisecond))
	require.NoError(t, err)
	defer p.Close()

	done := make(chan error, 1)
	go func() {
		done <- p.Publish(context.Background(), Event{Type: TypeRecorded, Hash: "abc"})
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish to an unreachable broker did not return")
	}
}

func TestNoopPublish(t *testing.T) {
	assert.NoError(t, Noop{}.Publish(context.Background(), Event{Type: TypeRecorded}))
}
