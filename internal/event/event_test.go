package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kmattila9/sleuthsync/internal/game"
	"github.com/stretchr/testify/require"
)

func TestDecode_UnknownKindIsNoOpNotError(t *testing.T) {
	env := Envelope{Event: "tv.volume.updated", Payload: json.RawMessage(`{"volume":11}`)}

	p, err := Decode(env)
	require.NoError(t, err, "unknown kinds must be ignored, not rejected")

	u, ok := p.(Unknown)
	require.True(t, ok, "expected Unknown payload, got %T", p)
	require.Equal(t, Kind("tv.volume.updated"), u.Kind())
}

func TestDecode_MalformedKnownPayloadReturnsError(t *testing.T) {
	env := Envelope{Event: KindProgressUpdated, Payload: json.RawMessage(`"not an object"`)}

	_, err := Decode(env)
	require.Error(t, err)
}

func TestEncodeDecode_ProgressUpdated(t *testing.T) {
	in := ProgressUpdated{Entry: game.ProgressEntry{
		TaskIdx:       2,
		CompletedBy:   "p-1",
		HintUsed:      true,
		AttemptNumber: 2,
		CompletedAt:   time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC),
	}}

	env, err := Encode(in)
	require.NoError(t, err)
	require.Equal(t, KindProgressUpdated, env.Event)

	out, err := Decode(env)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestEncodeDecode_ModerationKinds(t *testing.T) {
	for _, in := range []Payload{
		JoinRequest{PlayerID: "p-2", PlayerName: "Ada"},
		JoinApproved{PlayerID: "p-2", HostID: "p-1"},
		JoinDenied{PlayerID: "p-2", Reason: "session full"},
		PlayerKicked{PlayerID: "p-3", KickedBy: "p-1"},
		GameReset{ResetBy: "p-1"},
	} {
		env, err := Encode(in)
		require.NoError(t, err)

		out, err := Decode(env)
		require.NoError(t, err)
		require.Equal(t, in, out, "kind %s must round-trip", in.Kind())
	}
}

func TestEnvelope_WireShape(t *testing.T) {
	env, err := Encode(HintUsed{TaskIdx: 1, PlayerID: "p-1"})
	require.NoError(t, err)

	wire, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"hint.used","payload":{"task_idx":1,"player_id":"p-1"}}`, string(wire))
}
