package roomview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matjip-chat/internal/domain"
)

func entry(id, sender int64, at time.Time) Entry {
	return Entry{Message: domain.Message{ID: id, SenderID: sender, CreatedAt: at, MessageType: domain.MessageTypeUser}}
}

func TestGroupRuns(t *testing.T) {
	entries := []Entry{
		entry(1, 2, base),
		entry(2, 2, base.Add(59*time.Second)),
		entry(3, 2, base.Add(2*time.Minute)),
		entry(4, 1, base.Add(2*time.Minute+time.Second)),
		entry(5, 1, base.Add(2*time.Minute+2*time.Second)),
	}
	system := entry(6, 1, base.Add(2*time.Minute+3*time.Second))
	system.MessageType = domain.MessageTypeSystem
	entries = append(entries, system)

	runs := GroupRuns(entries)
	require.Len(t, runs, 4)
	assert.Len(t, runs[0].Entries, 2)
	assert.Len(t, runs[1].Entries, 1)
	assert.Len(t, runs[2].Entries, 2)
	assert.Equal(t, int64(6), runs[3].Entries[0].ID)
}

func TestGroupDays(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)
	entries := []Entry{
		entry(1, 2, time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)),
		entry(2, 2, time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)),
		entry(3, 2, time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)),
	}

	days := GroupDays(entries, loc)
	require.Len(t, days, 2)
	assert.Equal(t, 1, days[0].Date.Day())
	assert.Len(t, days[0].Entries, 1)
	assert.Equal(t, 2, days[1].Date.Day())
	assert.Len(t, days[1].Entries, 2)
}

func TestQuoteReplyShortOriginal(t *testing.T) {
	got := QuoteReply(domain.Message{SenderName: "Jun", Content: "짧은 메시지"}, "네")
	assert.Equal(t, "> Jun: 짧은 메시지\n\n네", got)
}
