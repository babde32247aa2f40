package roomview

import "matjip-chat/internal/domain"

// FoldReceipt applies a read notification to the timeline of a room of type roomType as seen by
// viewerID. It is idempotent and never lowers a read count, so receipts may arrive in any order.
func FoldReceipt(t *Timeline, roomType domain.RoomType, viewerID int64, n domain.ReadNotification) bool {
	if n.ReadByUserID == viewerID {
		return false
	}
	if roomType != domain.RoomTypeGroup {
		return markAllRead(t)
	}
	if n.MessageID == nil || n.ReadCount == nil {
		return false
	}

	target, count := *n.MessageID, *n.ReadCount
	changed := false
	t.eachConfirmed(func(m *domain.Message) {
		if m.ID != target && !(m.IsMine && m.ID < target) {
			return
		}
		if count > m.ReadCount {
			m.ReadCount = count
			changed = true
		}
		if read := m.ReadCount > 0; read != m.IsRead {
			m.IsRead = read
			changed = true
		}
	})
	return changed
}

// markAllRead is the two-party rule: any signal from the peer means every own message was seen.
func markAllRead(t *Timeline) bool {
	changed := false
	mark := func(m *domain.Message) {
		if m.IsMine && !m.IsRead {
			m.IsRead = true
			changed = true
		}
	}
	t.eachConfirmed(mark)
	t.eachPending(mark)
	return changed
}
