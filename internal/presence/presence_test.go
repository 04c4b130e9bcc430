package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kmattila9/sleuthsync/internal/transport"
)

func TestTracker_SelfAnnounceVisibleToPeers(t *testing.T) {
	bus := transport.NewMemoryBus()
	ctx := context.Background()

	self := transport.PresenceRecord{PlayerID: "p-1", PlayerName: "Ada", UpdatedAt: time.Now()}
	tr := New(bus, "ABC123", self, zap.NewNop(), nil)
	require.NoError(t, tr.Start(ctx))
	defer tr.Stop()

	peerSelf := transport.PresenceRecord{PlayerID: "p-2", PlayerName: "Flo", UpdatedAt: time.Now()}
	peer := New(bus, "ABC123", peerSelf, zap.NewNop(), nil)
	require.NoError(t, peer.Start(ctx))
	defer peer.Stop()

	roster := peer.Roster()
	require.Len(t, roster, 2)
	require.Equal(t, "p-1", roster[0].PlayerID, "earlier join listed first")
	require.Equal(t, "p-2", roster[1].PlayerID)
}

func TestTracker_DedupesRapidReconnectByLatestUpdatedAt(t *testing.T) {
	tr := New(transport.NewMemoryBus(), "ABC123", transport.PresenceRecord{PlayerID: "p-0"}, zap.NewNop(), nil)

	old := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)
	fresh := old.Add(5 * time.Second)
	tr.recompute(transport.PresenceEvent{Kind: transport.PresenceSync, Records: []transport.PresenceRecord{
		{PlayerID: "p-1", PlayerName: "Ada (old conn)", UpdatedAt: old},
		{PlayerID: "p-1", PlayerName: "Ada", UpdatedAt: fresh},
		{PlayerID: "p-2", PlayerName: "Flo", UpdatedAt: old},
	}})

	roster := tr.Roster()
	require.Len(t, roster, 2, "no duplicate player ids in the roster")

	byID := map[string]string{}
	for _, p := range roster {
		byID[p.PlayerID] = p.PlayerName
	}
	require.Equal(t, "Ada", byID["p-1"], "most recent record wins the dedupe")
	require.Equal(t, "Flo", byID["p-2"])
}

func TestTracker_LeaveRemovesParticipant(t *testing.T) {
	bus := transport.NewMemoryBus()
	ctx := context.Background()

	watcher := New(bus, "ABC123", transport.PresenceRecord{PlayerID: "p-1"}, zap.NewNop(), nil)
	require.NoError(t, watcher.Start(ctx))
	defer watcher.Stop()

	track, err := bus.Track(ctx, "ABC123", transport.PresenceRecord{PlayerID: "p-2", UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.Len(t, watcher.Roster(), 2)

	require.NoError(t, track.Unsubscribe())
	roster := watcher.Roster()
	require.Len(t, roster, 1)
	require.Equal(t, "p-1", roster[0].PlayerID)
}
