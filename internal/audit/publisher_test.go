package audit

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherDeliversToStore(t *testing.T) {
	store := NewMemoryStore()
	pub := NewPublisher(store, slog.Default())

	pub.Emit(Event{Type: TypeAttestationFiled, Actor: "0xabc", AttestationID: "att-1"})
	pub.Emit(Event{Type: TypeConfirmed, Actor: "0xdef", AttestationID: "att-1"})
	pub.Close()

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, TypeAttestationFiled, events[0].Type)
	assert.Equal(t, TypeConfirmed, events[1].Type)
	assert.False(t, events[0].At.IsZero(), "Emit stamps the time when absent")
}

func TestPublisherNeverBlocks(t *testing.T) {
	store := NewMemoryStore()
	pub := NewPublisher(store, slog.Default())
	defer pub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*4; i++ {
			pub.Emit(Event{Type: TypeAuthFailure})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked under burst load")
	}
}
