package core

import "time"

// StaffBadges are the badge slugs that mark a user as channel staff.
// Matching is exact and case-sensitive.
var StaffBadges = []string{"admin", "moderator"}

// User is the sender of a chat event. Badges keep platform order.
type User struct {
	Username string
	Badges   []string
}

// HasBadge reports whether the user bears the exact badge slug.
func (u User) HasBadge(badge string) bool {
	for _, b := range u.Badges {
		if b == badge {
			return true
		}
	}
	return false
}

// HasAnyBadge reports whether the user bears any of the given badge slugs.
func (u User) HasAnyBadge(badges []string) bool {
	for _, b := range badges {
		if u.HasBadge(b) {
			return true
		}
	}
	return false
}

// IsStaff reports whether the user holds a staff badge.
func (u User) IsStaff() bool {
	return u.HasAnyBadge(StaffBadges)
}

// ChatEvent is the unified structure for one incoming chat message.
// It is read-only to the processing pipeline; the deleted state is
// observed through the transport, never set locally.
type ChatEvent struct {
	ID               string // platform-native message ID
	Ts               time.Time
	User             User
	Text             string // no embedded newlines
	AmountCents      int    // 0 if not a paid message
	IsRant           bool
	RaidNotification bool
	GiftSub          bool
}
