package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNameIsSymmetric(t *testing.T) {
	assert.Equal(t, "room_s1_s2", ChannelName("s1", "s2"))
	assert.Equal(t, ChannelName("s1", "s2"), ChannelName("s2", "s1"))
	assert.Equal(t, "u1:u2", MatchID("u2", "u1"))
}

func TestNewMatchIsCanonical(t *testing.T) {
	now := time.Now()
	m := NewMatch("zed", "amy", now)
	assert.Equal(t, "amy", m.User1ID)
	assert.Equal(t, "zed", m.User2ID)
	assert.Equal(t, "amy:zed", m.ID)
	assert.Equal(t, "room_amy_zed", m.Channel)
	assert.Equal(t, m, NewMatch("amy", "zed", now))
}

func TestMatchNotificationActor(t *testing.T) {
	m := NewMatch("u1", "u2", time.Now())

	n1 := MatchNotification(m, "u1", time.Now())
	assert.Equal(t, "u2", n1.ActorID)
	assert.Equal(t, "match:u1:u2:u1", n1.ID)

	n2 := MatchNotification(m, "u2", time.Now())
	assert.Equal(t, "u1", n2.ActorID)
	assert.NotEqual(t, n1.ID, n2.ID)
}

func TestEventDecodeEmptyPayload(t *testing.T) {
	var p JoinRoomPayload
	require.NoError(t, Event{Type: EventJoinRoom}.Decode(&p))
	assert.Empty(t, p.Room)

	ev, err := NewEvent(EventJoinRoom, JoinRoomPayload{Room: "room_a_b"})
	require.NoError(t, err)
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "room_a_b", p.Room)
}
