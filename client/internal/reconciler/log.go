package reconciler

import (
	"sort"
	"time"

	"github.com/itchan-dev/pairchat/shared/domain"
)

// GroupWindow is the largest gap (exclusive) between two messages of the same author that
// still renders them as one group.
const GroupWindow = 5 * time.Minute

// Load builds a log from a server snapshot: duplicates collapse to the last copy and the
// result is ordered by CreatedAt, ties kept in snapshot order.
func Load(records []domain.Message) []domain.Message {
	log := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		log = upsert(log, rec)
	}
	sortLog(log)
	return log
}

// Apply merges one authoritative record into prev and returns the new log. An entry with
// the same id is replaced in full; otherwise the record is appended. prev is not modified.
func Apply(prev []domain.Message, rec domain.Message) []domain.Message {
	next := make([]domain.Message, len(prev), len(prev)+1)
	copy(next, prev)
	next = upsert(next, rec)
	sortLog(next)
	return next
}

func upsert(log []domain.Message, rec domain.Message) []domain.Message {
	rec = rec.Clone()
	if idx := IndexOf(log, rec.Id); idx >= 0 {
		log[idx] = rec
		return log
	}
	return append(log, rec)
}

func sortLog(log []domain.Message) {
	sort.SliceStable(log, func(i, j int) bool {
		return log[i].CreatedAt.Before(log[j].CreatedAt)
	})
}

func IndexOf(log []domain.Message, id domain.MessageId) int {
	for i := range log {
		if log[i].Id == id {
			return i
		}
	}
	return -1
}

// Grouped reports, for every entry, whether it continues the group of its predecessor.
func Grouped(log []domain.Message, window time.Duration) []bool {
	out := make([]bool, len(log))
	for i := 1; i < len(log); i++ {
		prev, cur := log[i-1], log[i]
		out[i] = prev.Author == cur.Author && cur.CreatedAt.Sub(prev.CreatedAt) < window
	}
	return out
}

// Reply is the outcome of resolving a weak reply reference.
type Reply struct {
	Id       domain.MessageId
	Resolved bool
	Message  domain.Message
}

// Resolve looks up the referent of a reply. A missing referent yields Resolved=false
// instead of an error.
func Resolve(log []domain.Message, replyTo *domain.MessageId) (Reply, bool) {
	if replyTo == nil {
		return Reply{}, false
	}
	idx := IndexOf(log, *replyTo)
	if idx < 0 {
		return Reply{Id: *replyTo}, true
	}
	return Reply{Id: *replyTo, Resolved: true, Message: log[idx]}, true
}

// Tombstone returns m with its payload cleared and DeletedAt set.
func Tombstone(m domain.Message, at time.Time) domain.Message {
	m = m.Clone()
	m.Content = ""
	m.Attachments = []domain.Attachment{}
	m.Reactions = domain.Reactions{}
	m.DeletedAt = &at
	return m
}
