package tgview

import (
	"fmt"
	"strings"
)

// MemberRole classifies a member's standing in a group.
type MemberRole string

const (
	// MemberRoleMember is a regular participant.
	MemberRoleMember MemberRole = "member"
	// MemberRoleAdmin is an administrator.
	MemberRoleAdmin MemberRole = "admin"
	// MemberRoleCreator is the group owner.
	MemberRoleCreator MemberRole = "creator"
)

// Member is one group participant.
type Member struct {
	UserID   int64
	Name     string
	Username string
	Bot      bool
	Role     MemberRole
	HasPhoto bool
	// PhotoURL is a data URL filled in by the web layer from the profile photo cache.
	PhotoURL string
}

// MemberPage is one page of participants.
type MemberPage struct {
	Members []Member
	// Scanned counts the upstream participant slots the page consumed, including
	// participants that are not listed as members, such as users who left.
	Scanned int
}

// MemberQuery selects one page of participants.
type MemberQuery struct {
	// Offset is the participant position to start from.
	Offset int
	// Limit bounds the page size.
	Limit int
	// Search optionally filters participants by name.
	Search string
}

// Validate checks one member query contract.
func (q MemberQuery) Validate() error {
	if q.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0", ErrInvalidRequest)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0", ErrInvalidRequest)
	}

	return nil
}

// DisplayName joins first and last names, falling back to @username and then the id.
func DisplayName(firstName, lastName, username string, id int64) string {
	name := strings.TrimSpace(strings.Join([]string{firstName, lastName}, " "))
	if name != "" {
		return name
	}
	if username != "" {
		return "@" + username
	}

	return fmt.Sprintf("User %d", id)
}
