package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/pairchat/client/internal/reconciler"
	"github.com/itchan-dev/pairchat/shared/domain"
)

var now = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func TestTimeLabel(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"today", time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC), "09:05"},
		{"start of today", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "00:00"},
		{"yesterday", time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), "Yesterday 23:59"},
		{"earlier this year", time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC), "Jan 2 08:00"},
		{"previous year", time.Date(2025, 12, 31, 18, 45, 0, 0, time.UTC), "Dec 31, 2025 18:45"},
		{"zero", time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeLabel(tt.at, now, time.UTC))
		})
	}
}

func TestTimeLabel_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 22:30 UTC on the 9th is 01:30 on the 10th in UTC+3
	at := time.Date(2026, 3, 9, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "01:30", TimeLabel(at, now, loc))
	assert.Equal(t, "Yesterday 22:30", TimeLabel(at, now, time.UTC))
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name  string
		reply reconciler.Reply
		want  ReplyPreview
	}{
		{
			name:  "unresolved",
			reply: reconciler.Reply{Id: "gone"},
			want:  ReplyPreview{Id: "gone", Text: UnavailableText},
		},
		{
			name:  "text",
			reply: reconciler.Reply{Id: "a", Resolved: true, Message: domain.Message{Author: "bob", Content: "hi"}},
			want:  ReplyPreview{Id: "a", Author: "bob", Text: "hi", Resolved: true},
		},
		{
			name: "image only",
			reply: reconciler.Reply{Id: "a", Resolved: true, Message: domain.Message{
				Author: "bob", Attachments: []domain.Attachment{{Name: "x.png"}},
			}},
			want: ReplyPreview{Id: "a", Author: "bob", Text: ImageText, Resolved: true},
		},
		{
			name:  "tombstone",
			reply: reconciler.Reply{Id: "a", Resolved: true, Message: domain.Message{Author: "bob"}},
			want:  ReplyPreview{Id: "a", Author: "bob", Text: DeletedRefText, Resolved: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview(tt.reply))
		})
	}
}

func TestChips(t *testing.T) {
	chips := Chips(domain.Reactions{"👍": {"bob"}, "😂": {"alice", "bob"}, "😮": {}}, "alice")
	require.Len(t, chips, 2)
	assert.Equal(t, Chip{Emoji: "👍", Count: 1, Mine: false}, chips[0])
	assert.Equal(t, Chip{Emoji: "😂", Count: 2, Mine: true}, chips[1])
}

func TestRows(t *testing.T) {
	deletedAt := now.Add(-time.Minute)
	editedAt := now.Add(-time.Minute)
	replyTo := "m1"
	missing := "nope"
	log := []domain.Message{
		{Id: "m1", Author: "bob", Content: "<b>hey</b>\nthere", CreatedAt: now.Add(-10 * time.Minute)},
		{Id: "m2", Author: "bob", Content: "again", CreatedAt: now.Add(-6 * time.Minute), EditedAt: &editedAt},
		{Id: "m3", Author: "alice", Content: "re", ReplyTo: &replyTo, CreatedAt: now.Add(-5 * time.Minute),
			Attachments: []domain.Attachment{{Name: "cat.png", MimeType: "image/png", ByteSize: 2048, URL: "u"}},
			Reactions:   domain.Reactions{"👍": {"bob"}}, Delivery: domain.DeliveryPending},
		{Id: "m4", Author: "alice", CreatedAt: now.Add(-4 * time.Minute), DeletedAt: &deletedAt, ReplyTo: &missing},
	}

	rows := New().Rows(log, Options{Self: "alice", Now: now, Location: time.UTC})
	require.Len(t, rows, 4)

	assert.False(t, rows[0].Grouped)
	assert.Equal(t, "15:20", rows[0].TimeLabel)
	assert.Equal(t, "hey<br>there", rows[0].HTML, "markup is stripped")
	assert.False(t, rows[0].CanEdit)
	assert.True(t, rows[0].CanReply)

	assert.True(t, rows[1].Grouped)
	assert.Empty(t, rows[1].TimeLabel)
	assert.True(t, rows[1].Edited)

	assert.True(t, rows[2].Own)
	assert.True(t, rows[2].CanEdit)
	assert.Equal(t, "pending", rows[2].Delivery)
	require.NotNil(t, rows[2].Reply)
	assert.Equal(t, "bob", rows[2].Reply.Author)
	require.Len(t, rows[2].Attachments, 1)
	assert.Equal(t, "2.0 kB", rows[2].Attachments[0].SizeLabel)
	assert.True(t, rows[2].Attachments[0].IsImage)
	assert.Len(t, rows[2].Reactions, 1)

	assert.True(t, rows[3].Grouped)
	assert.True(t, rows[3].Deleted)
	assert.Equal(t, DeletedText, rows[3].Text)
	assert.False(t, rows[3].CanReply)
	assert.False(t, rows[3].CanDelete)
	require.NotNil(t, rows[3].Reply)
	assert.False(t, rows[3].Reply.Resolved)
}

func TestFavicon(t *testing.T) {
	assert.Equal(t, FaviconUnread, Favicon(true))
	assert.Equal(t, FaviconRead, Favicon(false))
}
