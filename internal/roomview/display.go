package roomview

import (
	"time"

	"matjip-chat/internal/domain"
)

// RunGap is the largest gap between two messages of one sender that still merges them.
const RunGap = 60 * time.Second

// Run is a block of consecutive messages from one sender.
type Run struct {
	SenderID   int64
	SenderName string
	Mine       bool
	Entries    []Entry
}

// GroupRuns merges consecutive entries of the same sender less than RunGap apart.
// System messages always stand alone.
func GroupRuns(entries []Entry) []Run {
	var runs []Run
	for _, e := range entries {
		if n := len(runs); n > 0 {
			cur := &runs[n-1]
			last := cur.Entries[len(cur.Entries)-1]
			if joins(last, e) {
				cur.Entries = append(cur.Entries, e)
				continue
			}
		}
		runs = append(runs, Run{
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			Mine:       e.IsMine,
			Entries:    []Entry{e},
		})
	}
	return runs
}

func joins(prev, next Entry) bool {
	if prev.MessageType == domain.MessageTypeSystem || next.MessageType == domain.MessageTypeSystem {
		return false
	}
	if prev.SenderID != next.SenderID {
		return false
	}
	gap := next.CreatedAt.Sub(prev.CreatedAt)
	return gap >= 0 && gap < RunGap
}

// Day is the set of entries sharing a calendar date in loc.
type Day struct {
	Date    time.Time
	Entries []Entry
}

func GroupDays(entries []Entry, loc *time.Location) []Day {
	if loc == nil {
		loc = time.Local
	}
	var days []Day
	for _, e := range entries {
		t := e.CreatedAt.In(loc)
		date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(days); n > 0 && days[n-1].Date.Equal(date) {
			days[n-1].Entries = append(days[n-1].Entries, e)
			continue
		}
		days = append(days, Day{Date: date, Entries: []Entry{e}})
	}
	return days
}

// ReplyPreviewLen is the number of runes of the original message kept in a reply quote.
const ReplyPreviewLen = 20

// QuoteReply prefixes body with a quote of the message being replied to.
func QuoteReply(original domain.Message, body string) string {
	preview := []rune(original.Content)
	quoted := original.Content
	if len(preview) > ReplyPreviewLen {
		quoted = string(preview[:ReplyPreviewLen]) + "..."
	}
	return "> " + original.SenderName + ": " + quoted + "\n\n" + body
}
