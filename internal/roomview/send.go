package roomview

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/live"
	matjip_errors "matjip-chat/pkg/errors"
)

// SendPhase is the state of the most recent send.
type SendPhase int

const (
	PhaseCompose SendPhase = iota
	PhaseLiveSendAttempted
	PhaseLiveUnavailable
	PhaseFallbackSendAttempted
	PhaseSuccess
	PhaseFailure
)

func (p SendPhase) String() string {
	switch p {
	case PhaseLiveSendAttempted:
		return "LiveSendAttempted"
	case PhaseLiveUnavailable:
		return "LiveUnavailable"
	case PhaseFallbackSendAttempted:
		return "FallbackSendAttempted"
	case PhaseSuccess:
		return "Success"
	case PhaseFailure:
		return "Failure"
	default:
		return "Compose"
	}
}

// SetDraft replaces the compose buffer.
func (v *View) SetDraft(text string) {
	v.mu.Lock()
	v.draft = text
	v.mu.Unlock()
}

func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// ReplyTo attaches a reply context to the next send. Nil clears it.
func (v *View) ReplyTo(m *domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m == nil {
		v.reply = nil
		return
	}
	cp := *m
	v.reply = &cp
}

func (v *View) Phase() SendPhase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

func (v *View) setPhase(p SendPhase, localID string) {
	v.mu.Lock()
	v.phase = p
	v.mu.Unlock()
	v.logger.Debug("send phase", zap.String("phase", p.String()), zap.String("client_message_id", localID))
}

// Send sends the draft. The optimistic entry appears before Send returns. An error means the
// fallback failed: the entry is gone and the draft holds the original text again.
func (v *View) Send(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return matjip_errors.ErrRoomClosed
	}
	raw := v.draft
	body := strings.TrimSpace(raw)
	if body == "" {
		v.mu.Unlock()
		return matjip_errors.ErrEmptyMessage
	}
	reply := v.reply
	content := body
	if reply != nil {
		content = QuoteReply(*reply, body)
	}

	localID := uuid.NewString()
	now := v.opts.Now()
	v.timeline.AddPending(domain.Message{
		ID:              now.UnixMilli(),
		RoomID:          v.room.ID,
		SenderID:        v.userID,
		Content:         content,
		CreatedAt:       now,
		MessageType:     domain.MessageTypeUser,
		IsMine:          true,
		MemberCount:     v.room.OtherMemberCount(),
		ClientMessageID: localID,
	}, localID)
	v.draft = ""
	v.reply = nil
	v.phase = PhaseCompose
	v.mu.Unlock()
	v.changed()

	if v.room.UUID != "" && v.conn.State() == live.StateConnected {
		err := v.conn.Publish(events.RoomSendChannel(v.room.UUID), domain.SendPayload{
			Content:         content,
			ClientMessageID: localID,
		})
		if err == nil {
			v.setPhase(PhaseLiveSendAttempted, localID)
			return nil
		}
		v.logger.Debug("live send failed, using fallback", zap.Error(err))
	}

	v.setPhase(PhaseLiveUnavailable, localID)
	v.setPhase(PhaseFallbackSendAttempted, localID)
	confirmed, err := v.api.SendMessage(ctx, v.ref, content, localID)

	v.mu.Lock()
	if err != nil {
		v.timeline.RemovePending(localID)
		v.draft = raw
		v.reply = reply
		v.phase = PhaseFailure
		v.mu.Unlock()
		v.logger.Debug("send phase", zap.String("phase", PhaseFailure.String()), zap.String("client_message_id", localID), zap.Error(err))
		v.changed()
		return err
	}
	confirmed.IsMine = true
	if confirmed.ClientMessageID == "" {
		v.timeline.RemovePending(localID)
	}
	v.timeline.Merge(confirmed)
	v.phase = PhaseSuccess
	v.mu.Unlock()
	v.logger.Debug("send phase", zap.String("phase", PhaseSuccess.String()), zap.String("client_message_id", localID))
	v.changed()
	return nil
}
