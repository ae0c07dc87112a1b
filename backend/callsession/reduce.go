package callsession

import (
	"time"

	"github.com/adwski/blinddate/backend/model"
)

type Merge int

const (
	MergeNew Merge = iota
	MergeIntoPending
	MergeSupersedeWhileBusy
	MergeDuplicate
)

func (m Merge) String() string {
	switch m {
	case MergeNew:
		return "new"
	case MergeIntoPending:
		return "merge-into-pending"
	case MergeSupersedeWhileBusy:
		return "supersede-while-busy"
	case MergeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Classify decides how a confirmed offer relates to the current state.
// The caller id is the deduplication key between a broadcast and its record.
func Classify(s State, ev ConfirmedReceived) Merge {
	if ev.CallID != "" {
		if s.Incoming != nil && s.Incoming.CallID == ev.CallID {
			return MergeDuplicate
		}
		if s.Active != nil && s.Active.CallID == ev.CallID {
			return MergeDuplicate
		}
	}
	if s.Phase == PhaseIncomingBroadcast && s.Incoming != nil && s.Incoming.CallerID == ev.CallerID {
		return MergeIntoPending
	}
	if s.Busy() {
		return MergeSupersedeWhileBusy
	}
	return MergeNew
}

// Reduce applies ev to s. It never mutates s. On error the returned state
// equals s and no effects are produced.
func Reduce(s State, ev Event, now time.Time) (State, []Effect, error) {
	next := s.clone()
	switch e := ev.(type) {
	case BroadcastReceived:
		return onBroadcast(next, e, now)
	case ConfirmedReceived:
		return onConfirmed(next, e, now)
	case Accept:
		return onAccept(s, next)
	case Reject:
		return onReject(s, next)
	case Timeout:
		return onTimeout(next, e)
	case PlaceCall:
		if s.Busy() {
			return s, nil, ErrBusy
		}
		next.Phase = PhaseOutgoingRinging
		next.Outgoing = &Outgoing{CalleeID: e.CalleeID, Kind: e.Kind}
		return next, []Effect{{Kind: EffectRequestCall, CalleeID: e.CalleeID, CallKind: e.Kind}}, nil
	case CallCreated:
		if next.Phase != PhaseOutgoingRinging || next.Outgoing.CallID != "" ||
			next.Outgoing.CalleeID != e.Call.CalleeID {
			return s, nil, nil
		}
		next.Outgoing.CallID = e.Call.ID
		next.Outgoing.Channel = e.Call.Channel
		next.Outgoing.Credentials = e.Credentials
		status := next.Outgoing.Early[e.Call.ID]
		next.Outgoing.Early = nil
		switch status {
		case model.CallStatusAnswered:
			return answerOutgoing(next)
		case model.CallStatusRejected:
			return rejectOutgoing(next)
		}
		return next, nil, nil
	case CallAnswered:
		return onCallStatus(s, next, e.CallID, model.CallStatusAnswered)
	case CallRejected:
		return onCallStatus(s, next, e.CallID, model.CallStatusRejected)
	case Cancel:
		// Local only: the callee resolves its copy by reject or timeout.
		if next.Phase != PhaseOutgoingRinging {
			return s, nil, nil
		}
		next.Phase = PhaseIdle
		next.Outgoing = nil
		return next, nil, nil
	case HangUp:
		if next.Phase != PhaseActive {
			return s, nil, nil
		}
		call := *next.Active
		next.Phase = PhaseIdle
		next.Active = nil
		return next, []Effect{{Kind: EffectStopMedia, Call: call}}, nil
	}
	return s, nil, nil
}

func onBroadcast(next State, e BroadcastReceived, now time.Time) (State, []Effect, error) {
	if next.Busy() {
		return next, nil, nil
	}
	next.Seq++
	offer := &Offer{
		CallerID:     e.CallerID,
		CallerName:   e.CallerName,
		CallerAvatar: e.CallerAvatar,
		Kind:         e.Kind,
		Status:       OfferPendingBroadcast,
		Deadline:     now.Add(AnswerTimeout),
		Seq:          next.Seq,
	}
	next.Phase = PhaseIncomingBroadcast
	next.Incoming = offer
	return next, []Effect{
		{Kind: EffectPresent, Offer: *offer},
		{Kind: EffectArmTimer, Deadline: offer.Deadline, Seq: offer.Seq},
	}, nil
}

func onConfirmed(next State, e ConfirmedReceived, now time.Time) (State, []Effect, error) {
	switch Classify(next, e) {
	case MergeDuplicate:
		return next, nil, nil
	case MergeSupersedeWhileBusy:
		return next, []Effect{{Kind: EffectSendReject, CallID: e.CallID}}, nil
	case MergeIntoPending:
		// Same call: keep the deadline and timer armed at broadcast time.
		o := next.Incoming
		o.CallID = e.CallID
		o.Channel = e.Channel
		o.Credentials = e.Credentials
		o.Status = OfferPendingConfirmed
		if e.CallerName != "" {
			o.CallerName = e.CallerName
		}
		if e.CallerAvatar != "" {
			o.CallerAvatar = e.CallerAvatar
		}
		if e.Kind != "" {
			o.Kind = e.Kind
		}
		next.Phase = PhaseIncomingConfirmed
		return next, nil, nil
	}

	next.Seq++
	offer := &Offer{
		CallerID:     e.CallerID,
		CallerName:   e.CallerName,
		CallerAvatar: e.CallerAvatar,
		Kind:         e.Kind,
		CallID:       e.CallID,
		Channel:      e.Channel,
		Credentials:  e.Credentials,
		Status:       OfferPendingConfirmed,
		Deadline:     now.Add(AnswerTimeout),
		Seq:          next.Seq,
	}
	next.Phase = PhaseIncomingConfirmed
	next.Incoming = offer
	return next, []Effect{
		{Kind: EffectPresent, Offer: *offer},
		{Kind: EffectArmTimer, Deadline: offer.Deadline, Seq: offer.Seq},
	}, nil
}

func onAccept(s, next State) (State, []Effect, error) {
	o := next.Incoming
	if o == nil {
		return s, nil, ErrNoOffer
	}
	if o.CallID == "" {
		return s, nil, ErrNotConfirmed
	}
	o.Status = OfferAnswered
	next.Phase = PhaseActive
	next.Incoming = nil
	next.Active = &ActiveCall{
		CallID:      o.CallID,
		PeerID:      o.CallerID,
		Kind:        o.Kind,
		Channel:     o.Channel,
		Credentials: o.Credentials,
	}
	return next, []Effect{
		{Kind: EffectCancelTimer, Seq: o.Seq},
		{Kind: EffectDismiss, Offer: *o},
		{Kind: EffectSendAnswer, CallID: o.CallID},
		{Kind: EffectStartMedia, Call: *next.Active},
	}, nil
}

func onReject(s, next State) (State, []Effect, error) {
	o := next.Incoming
	if o == nil {
		return s, nil, ErrNoOffer
	}
	o.Status = OfferRejected
	effects := []Effect{
		{Kind: EffectCancelTimer, Seq: o.Seq},
		{Kind: EffectDismiss, Offer: *o},
	}
	if o.CallID != "" {
		effects = append(effects, Effect{Kind: EffectSendReject, CallID: o.CallID})
	}
	next.Phase = PhaseIdle
	next.Incoming = nil
	return next, effects, nil
}

func onTimeout(next State, e Timeout) (State, []Effect, error) {
	o := next.Incoming
	if o == nil || o.Seq != e.Seq {
		return next, nil, nil
	}
	o.Status = OfferExpired
	effects := []Effect{{Kind: EffectDismiss, Offer: *o}}
	if o.CallID != "" {
		effects = append(effects, Effect{Kind: EffectSendReject, CallID: o.CallID})
	}
	next.Phase = PhaseIdle
	next.Incoming = nil
	return next, effects, nil
}

// onCallStatus resolves the outgoing call. A status that outruns the call
// creation response is kept until CallCreated names the call.
func onCallStatus(s, next State, callID string, status model.CallStatus) (State, []Effect, error) {
	if next.Phase != PhaseOutgoingRinging || callID == "" {
		return s, nil, nil
	}
	if next.Outgoing.CallID == "" {
		if next.Outgoing.Early == nil {
			next.Outgoing.Early = make(map[string]model.CallStatus)
		}
		next.Outgoing.Early[callID] = status
		return next, nil, nil
	}
	if next.Outgoing.CallID != callID {
		return s, nil, nil
	}
	if status == model.CallStatusAnswered {
		return answerOutgoing(next)
	}
	return rejectOutgoing(next)
}

func answerOutgoing(next State) (State, []Effect, error) {
	out := next.Outgoing
	next.Phase = PhaseActive
	next.Outgoing = nil
	next.Active = &ActiveCall{
		CallID:      out.CallID,
		PeerID:      out.CalleeID,
		Kind:        out.Kind,
		Channel:     out.Channel,
		Credentials: out.Credentials,
		Outgoing:    true,
	}
	return next, []Effect{{Kind: EffectStartMedia, Call: *next.Active}}, nil
}

func rejectOutgoing(next State) (State, []Effect, error) {
	next.Phase = PhaseIdle
	next.Outgoing = nil
	return next, nil, nil
}
