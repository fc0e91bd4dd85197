package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cast"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/config"
	"github.com/tripzi-app/calling/pkg/response"
	"github.com/tripzi-app/calling/pkg/signaling"
)

type createCallInput struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	CallType   string `json:"callType" binding:"required"`
	OfferSDP   string `json:"offerSdp"`
}

// handleCreateCall starts a new call attempt on behalf of the
// authenticated caller. The offer may be included here or written with a
// follow-up update once the peer connection has produced it.
func (h *Handlers) handleCreateCall(c *gin.Context) {
	user := currentUser(c)
	var input createCallInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	record, err := h.channel.CreateCall(c.Request.Context(), user.UID, input.ReceiverID, models.CallType(input.CallType))
	if err != nil {
		h.failFromChannel(c, err)
		return
	}

	if input.OfferSDP != "" {
		record, err = h.channel.UpdateCall(c.Request.Context(), record.CallID, signaling.Patch{OfferSDP: &input.OfferSDP})
		if err != nil {
			h.failFromChannel(c, err)
			return
		}
	}

	response.Success(c, record)
}

// handleICEServers returns the STUN configuration clients feed into their
// peer connections before dialing.
func (h *Handlers) handleICEServers(c *gin.Context) {
	response.Success(c, gin.H{
		"iceServers": []webrtc.ICEServer{{URLs: config.GlobalConfig.STUNUrls}},
	})
}

func (h *Handlers) handleGetCall(c *gin.Context) {
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}
	response.Success(c, record)
}

type updateCallInput struct {
	OfferSDP  string `json:"offerSdp"`
	AnswerSDP string `json:"answerSdp"`
}

// handleUpdateCall writes handshake payloads without changing the status.
// The caller writes the offer, the receiver may stage the answer.
func (h *Handlers) handleUpdateCall(c *gin.Context) {
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}

	var input updateCallInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	patch := signaling.Patch{}
	if input.OfferSDP != "" {
		patch.OfferSDP = &input.OfferSDP
	}
	if input.AnswerSDP != "" {
		patch.AnswerSDP = &input.AnswerSDP
	}

	updated, err := h.channel.UpdateCall(c.Request.Context(), record.CallID, patch)
	if err != nil {
		h.failFromChannel(c, err)
		return
	}
	response.Success(c, updated)
}

type answerCallInput struct {
	AnswerSDP string `json:"answerSdp" binding:"required"`
}

// handleAnswerCall accepts a ringing call: only the receiver may answer,
// and the answer payload travels with the status change as one write.
func (h *Handlers) handleAnswerCall(c *gin.Context) {
	user := currentUser(c)
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}
	if record.ReceiverID != user.UID {
		response.FailWithStatus(c, http.StatusForbidden, "Only the receiver can answer")
		return
	}
	if record.Status != models.CallStatusRinging {
		response.Fail(c, "Call is not ringing", record)
		return
	}

	var input answerCallInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	answered := models.CallStatusAnswered
	updated, err := h.channel.UpdateCall(c.Request.Context(), record.CallID, signaling.Patch{
		Status:    &answered,
		AnswerSDP: &input.AnswerSDP,
	})
	if err != nil {
		h.failFromChannel(c, err)
		return
	}
	response.Success(c, updated)
}

// handleDeclineCall rejects a ringing call. Declining a call that already
// reached a terminal state is a no-op, not an error.
func (h *Handlers) handleDeclineCall(c *gin.Context) {
	user := currentUser(c)
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}
	if record.ReceiverID != user.UID {
		response.FailWithStatus(c, http.StatusForbidden, "Only the receiver can decline")
		return
	}

	declined := models.CallStatusDeclined
	reason := models.EndReasonDeclined
	updated, err := h.channel.UpdateCall(c.Request.Context(), record.CallID, signaling.Patch{
		Status:    &declined,
		EndReason: &reason,
	})
	if err != nil {
		h.failFromChannel(c, err)
		return
	}
	response.Success(c, updated)
}

// handleEndCall hangs up. Either participant may end, and repeated ends
// return the settled record unchanged.
func (h *Handlers) handleEndCall(c *gin.Context) {
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}

	ended := models.CallStatusEnded
	reason := models.EndReasonHangup
	updated, err := h.channel.UpdateCall(c.Request.Context(), record.CallID, signaling.Patch{
		Status:    &ended,
		EndReason: &reason,
	})
	if err != nil {
		h.failFromChannel(c, err)
		return
	}
	response.Success(c, updated)
}

type addCandidateInput struct {
	Candidate     string  `json:"candidate" binding:"required"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// handleAddCandidate appends one ICE candidate to the call's signal log
func (h *Handlers) handleAddCandidate(c *gin.Context) {
	user := currentUser(c)
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}

	var input addCandidateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	seq, err := h.channel.AddCandidate(c.Request.Context(), record.CallID, user.UID, webrtc.ICECandidateInit{
		Candidate:     input.Candidate,
		SDPMid:        input.SDPMid,
		SDPMLineIndex: input.SDPMLineIndex,
	})
	if err != nil {
		h.failFromChannel(c, err)
		return
	}

	h.metrics.RecordCandidateStored()
	response.Success(c, gin.H{"seq": seq})
}

// handleListCandidates replays candidates appended after the given seq,
// so a reconnecting client can catch up before trusting live events.
func (h *Handlers) handleListCandidates(c *gin.Context) {
	record, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}

	afterSeq := cast.ToUint(c.Query("after"))
	events, err := h.channel.Candidates(c.Request.Context(), record.CallID, afterSeq)
	if err != nil {
		h.failFromChannel(c, err)
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"seq":       ev.Seq,
			"from":      ev.From,
			"candidate": ev.Candidate,
		})
	}
	response.Success(c, out)
}

// handleCallHistory lists the authenticated user's calls, newest first
func (h *Handlers) handleCallHistory(c *gin.Context) {
	user := currentUser(c)

	limit := cast.ToInt(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	records, err := models.GetCallHistoryByUser(h.db, user.UID, limit)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "Failed to load call history")
		return
	}
	response.Success(c, records)
}

// loadParticipantCall loads the record in :id and checks the authenticated
// user is one of its two participants.
func (h *Handlers) loadParticipantCall(c *gin.Context) (*models.CallRecord, bool) {
	user := currentUser(c)
	if user == nil {
		response.Unauthorized(c, "Authentication required")
		return nil, false
	}

	record, err := h.channel.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, signaling.ErrNotFound) {
			response.NotFound(c, "Call not found")
		} else {
			response.FailWithStatus(c, http.StatusInternalServerError, "Failed to load call")
		}
		return nil, false
	}
	if record.CallerID != user.UID && record.ReceiverID != user.UID {
		response.FailWithStatus(c, http.StatusForbidden, "Not a participant of this call")
		return nil, false
	}
	return record, true
}

func (h *Handlers) failFromChannel(c *gin.Context, err error) {
	var verr *signaling.ValidationError
	switch {
	case errors.Is(err, signaling.ErrNotFound):
		response.NotFound(c, "Call not found")
	case errors.As(err, &verr):
		response.Fail(c, verr.Error(), nil)
	default:
		response.FailWithStatus(c, http.StatusInternalServerError, err.Error())
	}
}
