package model

// Inbound realtime event types.
const (
	EventJoinLobby    = "join_lobby"
	EventLeaveLobby   = "leave_lobby"
	EventJoinRoom     = "join_room"
	EventSendMessage  = "send_message"
	EventWebRTCSignal = "webrtc_signal"
)

// Server-originated realtime event types.
const (
	EventMatchFound     = "match_found"
	EventReceiveMessage = "receive_message"
	EventMatchReveal    = "match_reveal"
	EventIncomingCall   = "incoming_call"
	EventCallRecord     = "call_record"
	EventCallStatus     = "call_status"
	EventError          = "error"
)

type JoinLobbyPayload struct {
	Scope     string `json:"scope"`
	Mode      string `json:"mode"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type MatchFoundPayload struct {
	PeerID      string `json:"peerId"`
	PeerUserID  string `json:"peerUserId"`
	ChannelName string `json:"channelName"`
	Initiator   bool   `json:"initiator"`
}

type JoinRoomPayload struct {
	Room string `json:"room"`
}

type SendMessagePayload struct {
	Room   string `json:"room"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type ReceiveMessagePayload struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type SignalPayload struct {
	Room   string `json:"room,omitempty"`
	Signal any    `json:"signal"`
	From   string `json:"from,omitempty"`
}

type RevealedUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MatchRevealPayload struct {
	Users []RevealedUser `json:"users"`
}

// IncomingCallPayload is the optimistic broadcast. It has no durable call id.
type IncomingCallPayload struct {
	CallerID     string   `json:"callerId"`
	CallerName   string   `json:"callerName"`
	CallerAvatar string   `json:"callerAvatar,omitempty"`
	Kind         CallKind `json:"kind"`
}

// CallRecordPayload is the authoritative notice of a persisted call.
type CallRecordPayload struct {
	Call        Call             `json:"call"`
	Caller      Profile          `json:"caller"`
	Credentials MediaCredentials `json:"credentials"`
}

type CallStatusPayload struct {
	CallID string     `json:"callId"`
	Status CallStatus `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
