package model

import (
	"encoding/json"
	"time"
)

// Participant is an anonymous connection known to the session registry.
type Participant struct {
	ConnID    string `json:"conn_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// QueueKey partitions the lobby.
type QueueKey struct {
	Scope string `json:"scope"`
	Mode  string `json:"mode"`
}

func (k QueueKey) String() string {
	return k.Scope + "/" + k.Mode
}

// Documented lobby partitions. Other non-empty values are accepted as well.
const (
	ScopeCampus = "campus"
	ScopeGlobal = "global"

	ModeVideo = "video"
	ModeText  = "text"
)

const InterestActionLike = "like"

type Interest struct {
	LikerID   string    `json:"liker_id" dynamodbav:"likerId"`
	TargetID  string    `json:"target_id" dynamodbav:"targetId"`
	Action    string    `json:"action" dynamodbav:"action"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"createdAt"`
}

// Match is a reciprocal interest. User1ID < User2ID always holds.
type Match struct {
	ID        string    `json:"id" dynamodbav:"matchId"`
	User1ID   string    `json:"user1_id" dynamodbav:"user1Id"`
	User2ID   string    `json:"user2_id" dynamodbav:"user2Id"`
	Channel   string    `json:"channel" dynamodbav:"channel"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"createdAt"`
}

// NewMatch builds the canonical match record for an unordered pair.
func NewMatch(a, b string, now time.Time) Match {
	lo, hi := PairKey(a, b)
	return Match{
		ID:        MatchID(a, b),
		User1ID:   lo,
		User2ID:   hi,
		Channel:   ChannelName(a, b),
		CreatedAt: now,
	}
}

const NotificationKindMatch = "match"

type Notification struct {
	ID        string    `json:"id" dynamodbav:"notificationId"`
	UserID    string    `json:"user_id" dynamodbav:"userId"`
	Kind      string    `json:"kind" dynamodbav:"kind"`
	ActorID   string    `json:"actor_id" dynamodbav:"actorId"`
	MatchID   string    `json:"match_id" dynamodbav:"matchId"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"createdAt"`
}

// MatchNotification returns the notification userID receives for match m.
// The id is derived from the match so repeated creation collapses into one row.
func MatchNotification(m Match, userID string, now time.Time) Notification {
	actor := m.User1ID
	if actor == userID {
		actor = m.User2ID
	}
	return Notification{
		ID:        "match:" + m.ID + ":" + userID,
		UserID:    userID,
		Kind:      NotificationKindMatch,
		ActorID:   actor,
		MatchID:   m.ID,
		CreatedAt: now,
	}
}

type Profile struct {
	ID        string `json:"id" dynamodbav:"userId"`
	Name      string `json:"name" dynamodbav:"name"`
	AvatarURL string `json:"avatar_url,omitempty" dynamodbav:"avatarUrl"`
}

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// CallStatus is the lifecycle of the persisted call record.
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusAnswered CallStatus = "answered"
	CallStatusRejected CallStatus = "rejected"
)

type Call struct {
	ID        string     `json:"id" dynamodbav:"callId"`
	CallerID  string     `json:"caller_id" dynamodbav:"callerId"`
	CalleeID  string     `json:"callee_id" dynamodbav:"calleeId"`
	Kind      CallKind   `json:"kind" dynamodbav:"kind"`
	Channel   string     `json:"channel" dynamodbav:"channel"`
	Status    CallStatus `json:"status" dynamodbav:"status"`
	CreatedAt time.Time  `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt time.Time  `json:"updated_at" dynamodbav:"updatedAt"`
}

// MediaCredentials let a participant join the media room of a call.
type MediaCredentials struct {
	AppID     string `json:"app_id"`
	URL       string `json:"url"`
	Channel   string `json:"channel"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Event is the envelope of every realtime message.
// For inbound events the server re-assigns From based on the connection.
type Event struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an event of the given type.
func NewEvent(typ string, payload any) (Event, error) {
	ev := Event{Type: typ}
	if payload == nil {
		return ev, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ev, err
	}
	ev.Payload = b
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (ev Event) Decode(v any) error {
	if len(ev.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(ev.Payload, v)
}

// Wire connects a websocket session with the rest of the server.
type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}
