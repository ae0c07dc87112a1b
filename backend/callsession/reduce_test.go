package callsession

import (
	"testing"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func confirmed(callID, caller string) ConfirmedReceived {
	return ConfirmedReceived{
		CallID:      callID,
		CallerID:    caller,
		CallerName:  "Name of " + caller,
		Kind:        model.CallKindVideo,
		Channel:     model.ChannelName(caller, "callee"),
		Credentials: model.MediaCredentials{AppID: "app", Token: "tok-" + callID},
	}
}

func mustReduce(t *testing.T, s State, ev Event, now time.Time) (State, []Effect) {
	t.Helper()
	next, effects, err := Reduce(s, ev, now)
	require.NoError(t, err)
	return next, effects
}

func TestClassify(t *testing.T) {
	idle := State{}
	assert.Equal(t, MergeNew, Classify(idle, confirmed("c1", "alice")))

	pending, _ := mustReduce(t, idle, BroadcastReceived{CallerID: "alice"}, t0)
	assert.Equal(t, MergeIntoPending, Classify(pending, confirmed("c1", "alice")))
	assert.Equal(t, MergeSupersedeWhileBusy, Classify(pending, confirmed("c2", "carol")))

	merged, _ := mustReduce(t, pending, confirmed("c1", "alice"), t0)
	assert.Equal(t, MergeDuplicate, Classify(merged, confirmed("c1", "alice")))
	assert.Equal(t, MergeSupersedeWhileBusy, Classify(merged, confirmed("c9", "alice")))

	ringing, _ := mustReduce(t, idle, PlaceCall{CalleeID: "bob", Kind: model.CallKindAudio}, t0)
	assert.Equal(t, MergeSupersedeWhileBusy, Classify(ringing, confirmed("c3", "bob")))
}

func TestBroadcastThenConfirmedPresentsOnce(t *testing.T) {
	s, effects := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice", CallerAvatar: "a.png"}, t0)
	assert.Equal(t, []EffectKind{EffectPresent, EffectArmTimer}, kinds(effects))
	assert.Equal(t, PhaseIncomingBroadcast, s.Phase)
	deadline := t0.Add(AnswerTimeout)
	assert.Equal(t, deadline, effects[1].Deadline)

	later := t0.Add(12 * time.Second)
	s, effects = mustReduce(t, s, confirmed("c1", "alice"), later)
	assert.Empty(t, effects)
	assert.Equal(t, PhaseIncomingConfirmed, s.Phase)
	require.NotNil(t, s.Incoming)
	assert.Equal(t, "c1", s.Incoming.CallID)
	assert.Equal(t, OfferPendingConfirmed, s.Incoming.Status)
	assert.Equal(t, deadline, s.Incoming.Deadline)
	assert.Equal(t, uint64(1), s.Incoming.Seq)
	assert.Equal(t, "a.png", s.Incoming.CallerAvatar)
	assert.Equal(t, "Name of alice", s.Incoming.CallerName)
}

func TestConfirmedWithoutBroadcastStartsFreshTimer(t *testing.T) {
	now := t0.Add(time.Minute)
	s, effects := mustReduce(t, State{}, confirmed("c1", "alice"), now)
	assert.Equal(t, []EffectKind{EffectPresent, EffectArmTimer}, kinds(effects))
	assert.Equal(t, now.Add(AnswerTimeout), effects[1].Deadline)
	assert.Equal(t, PhaseIncomingConfirmed, s.Phase)
}

func TestLateBroadcastAfterRecordIsDiscarded(t *testing.T) {
	s, _ := mustReduce(t, State{}, confirmed("c1", "alice"), t0)
	next, effects := mustReduce(t, s, BroadcastReceived{CallerID: "alice"}, t0)
	assert.Empty(t, effects)
	assert.Equal(t, s, next)
}

func TestBroadcastWhileBusyIsDropped(t *testing.T) {
	s, _ := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
	next, effects := mustReduce(t, s, BroadcastReceived{CallerID: "carol"}, t0)
	assert.Empty(t, effects)
	assert.Equal(t, "alice", next.Incoming.CallerID)
}

func TestConfirmedWhileActiveIsRejected(t *testing.T) {
	s, _ := mustReduce(t, State{}, confirmed("c1", "alice"), t0)
	s, _ = mustReduce(t, s, Accept{}, t0)
	require.Equal(t, PhaseActive, s.Phase)

	next, effects := mustReduce(t, s, confirmed("c2", "carol"), t0)
	require.Len(t, effects, 1)
	assert.Equal(t, EffectSendReject, effects[0].Kind)
	assert.Equal(t, "c2", effects[0].CallID)
	assert.Equal(t, s, next)
}

func TestDuplicateRecordIsIgnored(t *testing.T) {
	s, _ := mustReduce(t, State{}, confirmed("c1", "alice"), t0)
	next, effects := mustReduce(t, s, confirmed("c1", "alice"), t0)
	assert.Empty(t, effects)
	assert.Equal(t, s, next)

	active, _ := mustReduce(t, s, Accept{}, t0)
	next, effects = mustReduce(t, active, confirmed("c1", "alice"), t0)
	assert.Empty(t, effects)
	assert.Equal(t, active, next)
}

func TestAcceptRequiresDurableID(t *testing.T) {
	s, _ := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
	next, effects, err := Reduce(s, Accept{}, t0)
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Nil(t, effects)
	assert.Equal(t, s, next)

	_, _, err = Reduce(State{}, Accept{}, t0)
	assert.ErrorIs(t, err, ErrNoOffer)
}

func TestAcceptStartsMedia(t *testing.T) {
	s, _ := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
	s, _ = mustReduce(t, s, confirmed("c1", "alice"), t0)
	s, effects := mustReduce(t, s, Accept{}, t0)

	assert.Equal(t, []EffectKind{EffectCancelTimer, EffectDismiss, EffectSendAnswer, EffectStartMedia}, kinds(effects))
	assert.Equal(t, OfferAnswered, effects[1].Offer.Status)
	assert.Equal(t, "c1", effects[2].CallID)
	assert.Equal(t, "tok-c1", effects[3].Call.Credentials.Token)
	assert.Equal(t, PhaseActive, s.Phase)
	assert.Nil(t, s.Incoming)
	assert.Equal(t, "alice", s.Active.PeerID)
}

func TestRejectBroadcastOnlySendsNothing(t *testing.T) {
	s, _ := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
	s, effects := mustReduce(t, s, Reject{}, t0)
	assert.Equal(t, []EffectKind{EffectCancelTimer, EffectDismiss}, kinds(effects))
	assert.Equal(t, PhaseIdle, s.Phase)
}

func TestRejectConfirmed(t *testing.T) {
	s, _ := mustReduce(t, State{}, confirmed("c1", "alice"), t0)
	s, effects := mustReduce(t, s, Reject{}, t0)
	assert.Equal(t, []EffectKind{EffectCancelTimer, EffectDismiss, EffectSendReject}, kinds(effects))
	assert.Equal(t, "c1", effects[2].CallID)
	assert.Equal(t, OfferRejected, effects[1].Offer.Status)
	assert.Equal(t, PhaseIdle, s.Phase)
}

func TestTimeout(t *testing.T) {
	t.Run("confirmed offer rejects once", func(t *testing.T) {
		s, arm := mustReduce(t, State{}, confirmed("c1", "alice"), t0)
		s, effects := mustReduce(t, s, Timeout{Seq: arm[1].Seq}, t0.Add(AnswerTimeout))
		assert.Equal(t, []EffectKind{EffectDismiss, EffectSendReject}, kinds(effects))
		assert.Equal(t, OfferExpired, effects[0].Offer.Status)
		assert.Equal(t, PhaseIdle, s.Phase)

		_, effects = mustReduce(t, s, Timeout{Seq: arm[1].Seq}, t0.Add(AnswerTimeout))
		assert.Empty(t, effects)
	})
	t.Run("broadcast only offer expires silently", func(t *testing.T) {
		s, arm := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
		s, effects := mustReduce(t, s, Timeout{Seq: arm[1].Seq}, t0.Add(AnswerTimeout))
		assert.Equal(t, []EffectKind{EffectDismiss}, kinds(effects))
		assert.Equal(t, PhaseIdle, s.Phase)
	})
	t.Run("stale timer is ignored", func(t *testing.T) {
		s, _ := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
		s, _ = mustReduce(t, s, Reject{}, t0)
		s, _ = mustReduce(t, s, confirmed("c2", "carol"), t0)
		require.Equal(t, uint64(2), s.Incoming.Seq)

		next, effects := mustReduce(t, s, Timeout{Seq: 1}, t0.Add(AnswerTimeout))
		assert.Empty(t, effects)
		assert.Equal(t, s, next)
	})
}

func TestOutgoingCall(t *testing.T) {
	s, effects := mustReduce(t, State{}, PlaceCall{CalleeID: "bob", Kind: model.CallKindAudio}, t0)
	assert.Equal(t, []EffectKind{EffectRequestCall}, kinds(effects))
	assert.Equal(t, PhaseOutgoingRinging, s.Phase)

	_, _, err := Reduce(s, PlaceCall{CalleeID: "carol"}, t0)
	assert.ErrorIs(t, err, ErrBusy)

	call := model.Call{ID: "c1", CallerID: "alice", CalleeID: "bob", Channel: "room_alice_bob"}
	s, effects = mustReduce(t, s, CallCreated{Call: call, Credentials: model.MediaCredentials{Token: "t"}}, t0)
	assert.Empty(t, effects)
	assert.Equal(t, "c1", s.Outgoing.CallID)

	same, effects := mustReduce(t, s, CallAnswered{CallID: "other"}, t0)
	assert.Empty(t, effects)
	assert.Equal(t, s, same)

	s, effects = mustReduce(t, s, CallAnswered{CallID: "c1"}, t0)
	assert.Equal(t, []EffectKind{EffectStartMedia}, kinds(effects))
	assert.True(t, effects[0].Call.Outgoing)
	assert.Equal(t, "room_alice_bob", s.Active.Channel)

	s, effects = mustReduce(t, s, HangUp{}, t0)
	assert.Equal(t, []EffectKind{EffectStopMedia}, kinds(effects))
	assert.Equal(t, PhaseIdle, s.Phase)
}

func TestOutgoingRejectedAndCanceled(t *testing.T) {
	s, _ := mustReduce(t, State{}, PlaceCall{CalleeID: "bob"}, t0)
	s, _ = mustReduce(t, s, CallCreated{Call: model.Call{ID: "c1", CalleeID: "bob"}}, t0)
	rejected, _ := mustReduce(t, s, CallRejected{CallID: "c1"}, t0)
	assert.Equal(t, PhaseIdle, rejected.Phase)

	canceled, effects := mustReduce(t, s, Cancel{}, t0)
	assert.Empty(t, effects)
	assert.Equal(t, PhaseIdle, canceled.Phase)
	assert.Nil(t, canceled.Outgoing)
}

func TestCallStatusBeforeCallCreated(t *testing.T) {
	call := model.Call{ID: "c1", CallerID: "alice", CalleeID: "bob", Channel: "room_alice_bob"}

	t.Run("rejected", func(t *testing.T) {
		s, _ := mustReduce(t, State{}, PlaceCall{CalleeID: "bob"}, t0)
		s, effects := mustReduce(t, s, CallRejected{CallID: "c1"}, t0)
		assert.Empty(t, effects)
		assert.Equal(t, PhaseOutgoingRinging, s.Phase)

		s, effects = mustReduce(t, s, CallCreated{Call: call}, t0)
		assert.Empty(t, effects)
		assert.Equal(t, PhaseIdle, s.Phase)
		assert.Nil(t, s.Outgoing)
	})

	t.Run("answered", func(t *testing.T) {
		s, _ := mustReduce(t, State{}, PlaceCall{CalleeID: "bob"}, t0)
		s, _ = mustReduce(t, s, CallAnswered{CallID: "c1"}, t0)
		s, effects := mustReduce(t, s, CallCreated{Call: call, Credentials: model.MediaCredentials{Token: "t"}}, t0)
		assert.Equal(t, []EffectKind{EffectStartMedia}, kinds(effects))
		assert.Equal(t, PhaseActive, s.Phase)
		assert.Equal(t, "t", s.Active.Credentials.Token)
	})

	t.Run("status of another call", func(t *testing.T) {
		s, _ := mustReduce(t, State{}, PlaceCall{CalleeID: "bob"}, t0)
		s, _ = mustReduce(t, s, CallRejected{CallID: "old"}, t0)
		s, _ = mustReduce(t, s, CallCreated{Call: call}, t0)
		assert.Equal(t, PhaseOutgoingRinging, s.Phase)
		assert.Equal(t, "c1", s.Outgoing.CallID)
		assert.Empty(t, s.Outgoing.Early)
	})

	t.Run("early status does not leak into input", func(t *testing.T) {
		s, _ := mustReduce(t, State{}, PlaceCall{CalleeID: "bob"}, t0)
		s, _ = mustReduce(t, s, CallRejected{CallID: "c1"}, t0)
		_, _ = mustReduce(t, s, CallAnswered{CallID: "c2"}, t0)
		assert.Len(t, s.Outgoing.Early, 1)
	})
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s, _ := mustReduce(t, State{}, BroadcastReceived{CallerID: "alice"}, t0)
	before := *s.Incoming
	_, _ = mustReduce(t, s, confirmed("c1", "alice"), t0)
	assert.Equal(t, before, *s.Incoming)
}
