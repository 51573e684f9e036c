package domain

import "time"

// PresenceEntry is the payload a member tracks on the presence channel.
type PresenceEntry struct {
	Username      Username  `json:"username"`
	Typing        bool      `json:"typing"`
	LastTrackedAt time.Time `json:"online_at"`
}

// PresenceState is a full-state sync: every payload tracked under each member key.
type PresenceState map[string][]PresenceEntry

// Watermark is the last-read timestamp of one user.
type Watermark struct {
	Username   Username  `json:"username"`
	LastReadAt time.Time `json:"last_read_at"`
}
