package tgview

import "fmt"

// GroupKind identifies which Telegram chat construct backs a group.
type GroupKind string

const (
	// GroupKindGroup is a basic (legacy) group chat.
	GroupKindGroup GroupKind = "group"
	// GroupKindSupergroup is a megagroup backed by a channel peer.
	GroupKindSupergroup GroupKind = "supergroup"
	// GroupKindChannel is a broadcast channel.
	GroupKindChannel GroupKind = "channel"
)

// Validate checks whether this kind value is supported.
func (k GroupKind) Validate() error {
	switch k {
	case GroupKindGroup, GroupKindSupergroup, GroupKindChannel:
		return nil
	default:
		return fmt.Errorf("validate group kind: unsupported kind %q", k)
	}
}

// HasParticipantList reports whether members are listed through channel participants.
func (k GroupKind) HasParticipantList() bool {
	return k == GroupKindSupergroup || k == GroupKindChannel
}

// Group is one chat the account participates in.
type Group struct {
	// ID is the marked chat id: -chat_id for basic groups and
	// -(1e12 + channel_id) for supergroups and channels.
	ID int64
	// Name is the chat title.
	Name string
	// Kind identifies the backing chat construct.
	Kind GroupKind
}
