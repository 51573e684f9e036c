package domain

import "slices"

// Reactions maps an emoji to the set of users who reacted with it. Slices are treated as
// sets: order is irrelevant and a user appears at most once per emoji.
type Reactions map[Emoji][]Username

func (r Reactions) Has(emoji Emoji, user Username) bool {
	return slices.Contains(r[emoji], user)
}

func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = append([]Username(nil), users...)
	}
	return out
}

// Toggle returns a copy with user's membership in the emoji set flipped. A set that
// becomes empty is dropped entirely.
func (r Reactions) Toggle(emoji Emoji, user Username) Reactions {
	out := r.Clone()
	if out == nil {
		out = Reactions{}
	}
	users := out[emoji]
	if idx := slices.Index(users, user); idx >= 0 {
		users = slices.Delete(users, idx, idx+1)
	} else {
		users = append(users, user)
	}
	if len(users) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = users
	}
	return out
}

// Emojis returns the keys in sorted order for stable rendering.
func (r Reactions) Emojis() []Emoji {
	keys := make([]Emoji, 0, len(r))
	for emoji := range r {
		keys = append(keys, emoji)
	}
	slices.Sort(keys)
	return keys
}
