// Package callsession holds the client side call lifecycle.
//
// An inbound call reaches the callee twice: first as a low-latency broadcast
// without a durable id, then as the persisted record carrying the call id and
// media credentials. Reduce merges both into a single Offer, arbitrates busy
// state and decides which side effects to run. Session drives Reduce with
// live timers and a network signaler.
package callsession

import (
	"errors"
	"maps"
	"time"

	"github.com/adwski/blinddate/backend/model"
)

// AnswerTimeout is how long an incoming offer stays presented before it is
// rejected automatically.
const AnswerTimeout = 30 * time.Second

var (
	ErrBusy         = errors.New("another call is in progress")
	ErrNotConfirmed = errors.New("offer has no durable call id yet")
	ErrNoOffer      = errors.New("no incoming offer")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOutgoingRinging
	PhaseIncomingBroadcast
	PhaseIncomingConfirmed
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOutgoingRinging:
		return "outgoing-ringing"
	case PhaseIncomingBroadcast:
		return "incoming-broadcast"
	case PhaseIncomingConfirmed:
		return "incoming-confirmed"
	case PhaseActive:
		return "active"
	}
	return "unknown"
}

type OfferStatus string

const (
	OfferPendingBroadcast OfferStatus = "pending-broadcast"
	OfferPendingConfirmed OfferStatus = "pending-confirmed"
	OfferAnswered         OfferStatus = "answered"
	OfferRejected         OfferStatus = "rejected"
	OfferExpired          OfferStatus = "expired"
)

type (
	// Offer is the single mutable inbound call on the callee side.
	Offer struct {
		CallerID     string
		CallerName   string
		CallerAvatar string
		Kind         model.CallKind
		CallID       string
		Channel      string
		Credentials  model.MediaCredentials
		Status       OfferStatus
		Deadline     time.Time
		Seq          uint64
	}

	Outgoing struct {
		CalleeID    string
		Kind        model.CallKind
		CallID      string
		Channel     string
		Credentials model.MediaCredentials
		// Early holds statuses that arrived before the call id was known.
		Early map[string]model.CallStatus
	}

	ActiveCall struct {
		CallID      string
		PeerID      string
		Kind        model.CallKind
		Channel     string
		Credentials model.MediaCredentials
		Outgoing    bool
	}

	State struct {
		Phase    Phase
		Incoming *Offer
		Outgoing *Outgoing
		Active   *ActiveCall
		// Seq increments whenever a new offer arms a timer.
		Seq uint64
	}
)

// Busy reports whether a new call must be turned away.
func (s State) Busy() bool {
	return s.Phase != PhaseIdle
}

func (s State) clone() State {
	out := s
	if s.Incoming != nil {
		o := *s.Incoming
		out.Incoming = &o
	}
	if s.Outgoing != nil {
		o := *s.Outgoing
		o.Early = maps.Clone(s.Outgoing.Early)
		out.Outgoing = &o
	}
	if s.Active != nil {
		a := *s.Active
		out.Active = &a
	}
	return out
}

type Event interface {
	event()
}

type (
	BroadcastReceived struct {
		CallerID     string
		CallerName   string
		CallerAvatar string
		Kind         model.CallKind
	}

	ConfirmedReceived struct {
		CallID       string
		CallerID     string
		CallerName   string
		CallerAvatar string
		Kind         model.CallKind
		Channel      string
		Credentials  model.MediaCredentials
	}

	Accept struct{}

	Reject struct{}

	// Timeout is delivered by the timer armed for offer Seq.
	Timeout struct {
		Seq uint64
	}

	PlaceCall struct {
		CalleeID string
		Kind     model.CallKind
	}

	CallCreated struct {
		Call        model.Call
		Credentials model.MediaCredentials
	}

	CallAnswered struct {
		CallID string
	}

	CallRejected struct {
		CallID string
	}

	Cancel struct{}

	HangUp struct{}
)

func (BroadcastReceived) event() {}
func (ConfirmedReceived) event() {}
func (Accept) event()            {}
func (Reject) event()            {}
func (Timeout) event()           {}
func (PlaceCall) event()         {}
func (CallCreated) event()       {}
func (CallAnswered) event()      {}
func (CallRejected) event()      {}
func (Cancel) event()            {}
func (HangUp) event()            {}

type EffectKind int

const (
	EffectPresent EffectKind = iota
	EffectDismiss
	EffectArmTimer
	EffectCancelTimer
	EffectSendAnswer
	EffectSendReject
	EffectRequestCall
	EffectStartMedia
	EffectStopMedia
)

func (k EffectKind) String() string {
	switch k {
	case EffectPresent:
		return "present"
	case EffectDismiss:
		return "dismiss"
	case EffectArmTimer:
		return "arm-timer"
	case EffectCancelTimer:
		return "cancel-timer"
	case EffectSendAnswer:
		return "send-answer"
	case EffectSendReject:
		return "send-reject"
	case EffectRequestCall:
		return "request-call"
	case EffectStartMedia:
		return "start-media"
	case EffectStopMedia:
		return "stop-media"
	}
	return "unknown"
}

// Effect is an action the driver must perform after a transition.
// Only the fields relevant to Kind are set.
type Effect struct {
	Kind     EffectKind
	Offer    Offer
	Call     ActiveCall
	CallID   string
	CalleeID string
	CallKind model.CallKind
	Deadline time.Time
	Seq      uint64
}
