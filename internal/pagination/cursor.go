// Package pagination turns Telegram offset-based iteration into opaque
// next-page tokens and back.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"tgview/pkg/tgview"
)

const (
	messageCursorPrefix = "m"
	memberCursorPrefix  = "u"
)

// MemberCursor locates the next page of a participant listing.
type MemberCursor struct {
	// Position is the participant offset passed to the next request.
	Position int
	// LastUserID is the last member rendered on the previous page.
	LastUserID int64
}

// EncodeMessageCursor returns the token for the page older than lastID.
func EncodeMessageCursor(lastID int) string {
	if lastID <= 0 {
		return ""
	}

	return encode(messageCursorPrefix + "." + strconv.Itoa(lastID))
}

// DecodeMessageCursor returns the offset id encoded in token.
//
// The empty token decodes to zero, meaning the newest page.
func DecodeMessageCursor(token string) (int, error) {
	parts, err := decode(token, messageCursorPrefix, 1)
	if err != nil {
		return 0, err
	}
	if parts == nil {
		return 0, nil
	}

	offsetID, err := strconv.Atoi(parts[0])
	if err != nil || offsetID <= 0 {
		return 0, fmt.Errorf("%w: bad message offset", tgview.ErrInvalidCursor)
	}

	return offsetID, nil
}

// EncodeMemberCursor returns the token for the participant page starting at position.
func EncodeMemberCursor(position int, lastUserID int64) string {
	if position <= 0 {
		return ""
	}

	return encode(memberCursorPrefix + "." + strconv.Itoa(position) + "." + strconv.FormatInt(lastUserID, 10))
}

// DecodeMemberCursor returns the participant cursor encoded in token.
//
// The empty token decodes to the zero cursor, meaning the first page.
func DecodeMemberCursor(token string) (MemberCursor, error) {
	parts, err := decode(token, memberCursorPrefix, 2)
	if err != nil {
		return MemberCursor{}, err
	}
	if parts == nil {
		return MemberCursor{}, nil
	}

	position, err := strconv.Atoi(parts[0])
	if err != nil || position <= 0 {
		return MemberCursor{}, fmt.Errorf("%w: bad member position", tgview.ErrInvalidCursor)
	}
	lastUserID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || lastUserID < 0 {
		return MemberCursor{}, fmt.Errorf("%w: bad member id", tgview.ErrInvalidCursor)
	}

	return MemberCursor{Position: position, LastUserID: lastUserID}, nil
}

// NextMessageToken returns the token for the page following messages.
//
// A page shorter than limit is the last one and yields the empty token.
func NextMessageToken(messages []tgview.Message, limit int) string {
	if limit <= 0 || len(messages) < limit {
		return ""
	}

	lowest := 0
	for _, message := range messages {
		if message.ID > 0 && (lowest == 0 || message.ID < lowest) {
			lowest = message.ID
		}
	}

	return EncodeMessageCursor(lowest)
}

// NextMemberToken returns the token for the participant page following page,
// which was requested at position.
//
// The next position advances by the scanned upstream slots, which include
// participants that were dropped from Members.
func NextMemberToken(position int, page tgview.MemberPage, limit int) string {
	if limit <= 0 || page.Scanned < limit {
		return ""
	}

	var lastUserID int64
	if len(page.Members) > 0 {
		lastUserID = page.Members[len(page.Members)-1].UserID
	}

	return EncodeMemberCursor(position+page.Scanned, lastUserID)
}

// SkipSeenMembers drops the leading members up to and including lastUserID.
//
// Participant offsets shift when members join or leave between requests; the
// last-seen id keeps the page boundary stable when it is still in view.
func SkipSeenMembers(members []tgview.Member, lastUserID int64) []tgview.Member {
	if lastUserID == 0 {
		return members
	}
	for index, member := range members {
		if member.UserID == lastUserID {
			return members[index+1:]
		}
	}

	return members
}

// ClampLimit parses a page size parameter, applying def when raw is empty or
// invalid and capping the result at maxLimit.
func ClampLimit(raw string, def int, maxLimit int) int {
	limit := def
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}

	return limit
}

func encode(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decode(token string, prefix string, fields int) ([]string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tgview.ErrInvalidCursor, err)
	}

	parts := strings.Split(string(raw), ".")
	if len(parts) != fields+1 {
		return nil, fmt.Errorf("%w: unexpected field count", tgview.ErrInvalidCursor)
	}
	if parts[0] != prefix {
		return nil, fmt.Errorf("%w: cursor kind %q, want %q", tgview.ErrInvalidCursor, parts[0], prefix)
	}

	return parts[1:], nil
}
