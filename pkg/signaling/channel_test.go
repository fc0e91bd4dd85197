package signaling

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// minimal session description accepted by the SDP parser
const testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func setupChannel(t *testing.T) *Channel {
	t.Helper()

	silentLogger := glog.New(
		log.New(io.Discard, "", log.LstdFlags),
		glog.Config{LogLevel: glog.Silent, IgnoreRecordNotFoundError: true},
	)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silentLogger})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CallRecord{}, &models.CallSignal{}))

	return NewChannel(db)
}

func waitEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestCreateCall(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeVideo)
	require.NoError(t, err)
	assert.NotEmpty(t, record.CallID)
	assert.Equal(t, models.CallStatusRinging, record.Status)
	assert.Equal(t, models.CallTypeVideo, record.CallType)
	assert.Nil(t, record.EndedAt)
}

func TestCreateCallValidation(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		caller   string
		receiver string
		callType models.CallType
	}{
		{"missing caller", "", "bob", models.CallTypeAudio},
		{"missing receiver", "alice", "", models.CallTypeAudio},
		{"self call", "alice", "alice", models.CallTypeAudio},
		{"bad type", "alice", "bob", models.CallType("screenshare")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ch.CreateCall(ctx, tc.caller, tc.receiver, tc.callType)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestUpdateCallAnswer(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	answered := models.CallStatusAnswered
	answer := testSDP
	updated, err := ch.UpdateCall(ctx, record.CallID, Patch{Status: &answered, AnswerSDP: &answer})
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusAnswered, updated.Status)
	assert.Equal(t, testSDP, updated.AnswerSDP)
	assert.NotNil(t, updated.AnsweredAt)
}

func TestUpdateCallRejectsBadSDP(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	bad := "not an sdp"
	_, err = ch.UpdateCall(ctx, record.CallID, Patch{OfferSDP: &bad})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUpdateCallNotFound(t *testing.T) {
	ch := setupChannel(t)

	ended := models.CallStatusEnded
	_, err := ch.UpdateCall(context.Background(), "missing", Patch{Status: &ended})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCallTerminalIsIdempotent(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	ended := models.CallStatusEnded
	first, err := ch.UpdateCall(ctx, record.CallID, Patch{Status: &ended})
	require.NoError(t, err)
	require.NotNil(t, first.EndedAt)
	endedAt := *first.EndedAt

	// a second terminal write is dropped, not an error
	declined := models.CallStatusDeclined
	second, err := ch.UpdateCall(ctx, record.CallID, Patch{Status: &declined})
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusEnded, second.Status)
	assert.Equal(t, endedAt.Unix(), second.EndedAt.Unix())
}

func TestConcurrentTerminalWritesFirstWriterWins(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	declined := models.CallStatusDeclined
	declinedReason := models.EndReasonDeclined
	ended := models.CallStatusEnded
	hangup := models.EndReasonHangup

	for i := 0; i < 20; i++ {
		record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = ch.UpdateCall(ctx, record.CallID, Patch{Status: &declined, EndReason: &declinedReason})
		}()
		go func() {
			defer wg.Done()
			_, _ = ch.UpdateCall(ctx, record.CallID, Patch{Status: &ended, EndReason: &hangup})
		}()
		wg.Wait()

		// exactly one write landed; status and reason belong to the same writer
		stored, err := ch.Get(ctx, record.CallID)
		require.NoError(t, err)
		require.True(t, stored.Status.Terminal())
		require.NotNil(t, stored.EndedAt)
		switch stored.Status {
		case models.CallStatusDeclined:
			assert.Equal(t, models.EndReasonDeclined, stored.EndReason)
		case models.CallStatusEnded:
			assert.Equal(t, models.EndReasonHangup, stored.EndReason)
		}
	}
}

func TestUpdateCallCannotRevertToRinging(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	answered := models.CallStatusAnswered
	_, err = ch.UpdateCall(ctx, record.CallID, Patch{Status: &answered})
	require.NoError(t, err)

	ringing := models.CallStatusRinging
	_, err = ch.UpdateCall(ctx, record.CallID, Patch{Status: &ringing})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAddCandidateAppendOnly(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	seq1, err := ch.AddCandidate(ctx, record.CallID, "alice", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	require.NoError(t, err)
	seq2, err := ch.AddCandidate(ctx, record.CallID, "alice", webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 1 10.0.0.2 5001 typ host"})
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	replay, err := ch.Candidates(ctx, record.CallID, 0)
	require.NoError(t, err)
	require.Len(t, replay, 2)
	assert.Contains(t, replay[0].Candidate.Candidate, "candidate:1")
	assert.Contains(t, replay[1].Candidate.Candidate, "candidate:2")

	// replay after the first seq returns only the second
	tail, err := ch.Candidates(ctx, record.CallID, seq1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, seq2, tail[0].Seq)
}

func TestAddCandidateOnEndedCallIsDropped(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)
	ended := models.CallStatusEnded
	_, err = ch.UpdateCall(ctx, record.CallID, Patch{Status: &ended})
	require.NoError(t, err)

	seq, err := ch.AddCandidate(ctx, record.CallID, "alice", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	require.NoError(t, err)
	assert.Zero(t, seq)

	replay, err := ch.Candidates(ctx, record.CallID, 0)
	require.NoError(t, err)
	assert.Empty(t, replay)
}

func TestSubscribePredicateFiltering(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	forBob := make(chan Event, 8)
	unsub := ch.Subscribe(ForReceiver("bob"), func(ev Event) { forBob <- ev })
	defer unsub()

	forCarol := make(chan Event, 8)
	unsubCarol := ch.Subscribe(ForReceiver("carol"), func(ev Event) { forCarol <- ev })
	defer unsubCarol()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	ev := waitEvent(t, forBob)
	assert.Equal(t, EventCallCreated, ev.Type)
	assert.Equal(t, record.CallID, ev.Record.CallID)
	assert.Equal(t, models.CallStatusRinging, ev.Record.Status)

	select {
	case <-forCarol:
		t.Fatal("carol must not see bob's call")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeEventsCarrySnapshots(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	got := make(chan Event, 8)
	unsub := ch.Subscribe(ForCall(record.CallID), func(ev Event) { got <- ev })
	defer unsub()

	answered := models.CallStatusAnswered
	answer := testSDP
	_, err = ch.UpdateCall(ctx, record.CallID, Patch{Status: &answered, AnswerSDP: &answer})
	require.NoError(t, err)

	ev := waitEvent(t, got)
	assert.Equal(t, EventCallUpdated, ev.Type)
	// the snapshot carries the status and the answer together
	assert.Equal(t, models.CallStatusAnswered, ev.Record.Status)
	assert.Equal(t, testSDP, ev.Record.AnswerSDP)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	got := make(chan Event, 8)
	unsub := ch.Subscribe(nil, func(ev Event) { got <- ev })
	unsub()
	unsub() // second call is a no-op

	_, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	select {
	case <-got:
		t.Fatal("unsubscribed handler must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestExpireRinging(t *testing.T) {
	ch := setupChannel(t)
	ctx := context.Background()

	stale, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)
	require.NoError(t, ch.db.Model(&models.CallRecord{}).
		Where("call_id = ?", stale.CallID).
		Update("created_at", time.Now().Add(-5*time.Minute)).Error)

	fresh, err := ch.CreateCall(ctx, "carol", "dave", models.CallTypeAudio)
	require.NoError(t, err)

	n, err := ch.ExpireRinging(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := ch.Get(ctx, stale.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusEnded, got.Status)
	assert.Equal(t, models.EndReasonTimeout, got.EndReason)

	got, err = ch.Get(ctx, fresh.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusRinging, got.Status)
}
