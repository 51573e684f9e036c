package presence

import (
	"sort"

	"github.com/itchan-dev/pairchat/shared/domain"
)

// Snapshot is the derived view of a presence state.
type Snapshot struct {
	Online []domain.Username
	Typing []domain.Username // never contains the local user
}

func (s Snapshot) IsOnline(user domain.Username) bool {
	return contains(s.Online, user)
}

func (s Snapshot) IsTyping(user domain.Username) bool {
	return contains(s.Typing, user)
}

// Reduce recomputes the member sets from a full state sync. Each username keeps only its
// latest payload, ordered by LastTrackedAt; on equal timestamps the payload seen later
// wins. Keys are visited in sorted order so the result does not depend on map iteration.
func Reduce(state domain.PresenceState, self domain.Username) Snapshot {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	latest := make(map[domain.Username]domain.PresenceEntry)
	for _, k := range keys {
		for _, entry := range state[k] {
			if entry.Username == "" {
				continue
			}
			prev, ok := latest[entry.Username]
			if !ok || !entry.LastTrackedAt.Before(prev.LastTrackedAt) {
				latest[entry.Username] = entry
			}
		}
	}

	snap := Snapshot{
		Online: make([]domain.Username, 0, len(latest)),
		Typing: []domain.Username{},
	}
	for user, entry := range latest {
		snap.Online = append(snap.Online, user)
		if entry.Typing && user != self {
			snap.Typing = append(snap.Typing, user)
		}
	}
	sort.Strings(snap.Online)
	sort.Strings(snap.Typing)
	return snap
}

func contains(users []domain.Username, user domain.Username) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}
