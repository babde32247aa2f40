package roomview

import (
	"sort"

	"matjip-chat/internal/domain"
)

// Entry is one row of the rendered message list.
type Entry struct {
	domain.Message
	// LocalID is set while the entry is an optimistic send awaiting confirmation.
	LocalID string
}

func (e Entry) Pending() bool {
	return e.LocalID != ""
}

// Timeline holds confirmed messages ordered by (createdAt, id) and the optimistic sends that
// always trail them. It is not safe for concurrent use; View guards it.
type Timeline struct {
	confirmed []domain.Message
	ids       map[int64]struct{}
	pending   []Entry
}

func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[int64]struct{})}
}

// Merge inserts confirmed messages. A confirmed message that carries the LocalID of a pending
// send replaces it. For ids already present only the read state is folded in. Returns the number
// inserted.
func (t *Timeline) Merge(msgs ...domain.Message) int {
	added, _ := t.Reconcile(msgs...)
	return added
}

// Reconcile is Merge that also reports how many existing entries had their read state advanced.
// Read state never regresses: IsRead stays set and ReadCount only grows.
func (t *Timeline) Reconcile(msgs ...domain.Message) (added, advanced int) {
	for _, m := range msgs {
		if m.ClientMessageID != "" {
			t.removePending(m.ClientMessageID)
		}
		if _, ok := t.ids[m.ID]; ok {
			if t.advanceRead(m) {
				advanced++
			}
			continue
		}
		i := sort.Search(len(t.confirmed), func(i int) bool {
			return m.Before(t.confirmed[i])
		})
		t.confirmed = append(t.confirmed, domain.Message{})
		copy(t.confirmed[i+1:], t.confirmed[i:])
		t.confirmed[i] = m
		t.ids[m.ID] = struct{}{}
		added++
	}
	return added, advanced
}

func (t *Timeline) advanceRead(fresh domain.Message) bool {
	for i := range t.confirmed {
		m := &t.confirmed[i]
		if m.ID != fresh.ID {
			continue
		}
		changed := false
		if fresh.ReadCount > m.ReadCount {
			m.ReadCount = fresh.ReadCount
			changed = true
		}
		if read := m.IsRead || fresh.IsRead || m.ReadCount > 0; read != m.IsRead {
			m.IsRead = read
			changed = true
		}
		return changed
	}
	return false
}

func (t *Timeline) AddPending(m domain.Message, localID string) {
	t.pending = append(t.pending, Entry{Message: m, LocalID: localID})
}

// Promote replaces the pending send localID with its confirmed form. It reports false when no
// such send is pending, leaving the timeline untouched.
func (t *Timeline) Promote(localID string, m domain.Message) bool {
	if _, ok := t.removePending(localID); !ok {
		return false
	}
	t.Merge(m)
	return true
}

// RemovePending drops a pending send and returns it.
func (t *Timeline) RemovePending(localID string) (Entry, bool) {
	return t.removePending(localID)
}

func (t *Timeline) removePending(localID string) (Entry, bool) {
	for i, e := range t.pending {
		if e.LocalID == localID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// Remove drops a confirmed message, e.g. after deletion.
func (t *Timeline) Remove(id int64) bool {
	if _, ok := t.ids[id]; !ok {
		return false
	}
	delete(t.ids, id)
	for i, m := range t.confirmed {
		if m.ID == id {
			t.confirmed = append(t.confirmed[:i], t.confirmed[i+1:]...)
			break
		}
	}
	return true
}

func (t *Timeline) Has(id int64) bool {
	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Len() int {
	return len(t.confirmed) + len(t.pending)
}

func (t *Timeline) PendingCount() int {
	return len(t.pending)
}

// Entries returns a copy of the list in display order.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	for _, m := range t.confirmed {
		out = append(out, Entry{Message: m})
	}
	return append(out, t.pending...)
}

// Oldest returns the first confirmed message.
func (t *Timeline) Oldest() (domain.Message, bool) {
	if len(t.confirmed) == 0 {
		return domain.Message{}, false
	}
	return t.confirmed[0], true
}

func (t *Timeline) eachConfirmed(fn func(m *domain.Message)) {
	for i := range t.confirmed {
		fn(&t.confirmed[i])
	}
}

func (t *Timeline) eachPending(fn func(m *domain.Message)) {
	for i := range t.pending {
		fn(&t.pending[i].Message)
	}
}
