package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kmattila9/sleuthsync/internal/event"
)

func TestMemoryBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var got []event.Kind
	_, err := bus.Subscribe(ctx, "ABC123", func(env event.Envelope) {
		got = append(got, env.Event)
	})
	require.NoError(t, err)

	for _, k := range []event.Kind{event.KindHintUsed, event.KindProgressUpdated, event.KindGameReset} {
		require.NoError(t, bus.Publish(ctx, "ABC123", event.Envelope{Event: k, Payload: json.RawMessage(`{}`)}))
	}

	require.Equal(t, []event.Kind{event.KindHintUsed, event.KindProgressUpdated, event.KindGameReset}, got)
}

func TestMemoryBus_SessionsAreIsolated(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var other int
	_, err := bus.Subscribe(ctx, "OTHER1", func(event.Envelope) { other++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ABC123", event.Envelope{Event: event.KindGameReset}))
	require.Zero(t, other)
}

func TestMemoryBus_PresenceJoinAndLeave(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var events []PresenceEvent
	_, err := bus.SubscribePresence(ctx, "ABC123", func(ev PresenceEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Len(t, events, 1, "initial sync expected")
	require.Equal(t, PresenceSync, events[0].Kind)

	track, err := bus.Track(ctx, "ABC123", PresenceRecord{PlayerID: "p-1", PlayerName: "Ada"})
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.Equal(t, PresenceJoin, events[1].Kind)
	require.Len(t, events[1].Records, 1)

	require.NoError(t, track.Unsubscribe())
	require.Len(t, events, 3)
	require.Equal(t, PresenceLeave, events[2].Kind)
	require.Empty(t, events[2].Records)
}
