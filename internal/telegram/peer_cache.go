package telegram

import (
	"fmt"
	"sync"

	"tgview/pkg/tgview"

	"github.com/gotd/td/tg"
)

// channelIDOffset shifts channel ids into the marked id space shared with
// basic groups.
const channelIDOffset int64 = 1_000_000_000_000

// PeerCache stores Telegram input peers discovered from dialogs and responses.
//
// It resolves neutral group and user ids back into input peers carrying the
// access hashes required by RPC calls.
type PeerCache struct {
	mu      sync.RWMutex
	byGroup map[int64]tg.InputPeerClass
	users   map[int64]userRecord
}

type userRecord struct {
	peer    *tg.InputPeerUser
	photoID int64
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byGroup: make(map[int64]tg.InputPeerClass),
		users:   make(map[int64]userRecord),
	}
}

// RememberGroup stores one group-to-peer mapping.
func (c *PeerCache) RememberGroup(groupID int64, peer tg.InputPeerClass) {
	if c == nil || peer == nil || groupID == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byGroup[groupID] = cloneInputPeer(peer)
}

// RememberUsers ingests user entities attached to one RPC response.
func (c *PeerCache) RememberUsers(users []tg.UserClass) {
	if c == nil || len(users) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, userClass := range users {
		user, ok := userClass.(*tg.User)
		if !ok || user == nil {
			continue
		}
		// Min constructors carry no usable access hash; keep the full record.
		if user.Min {
			if _, known := c.users[user.ID]; known {
				continue
			}
		}

		record := userRecord{peer: user.AsInputPeer()}
		if photo, ok := user.Photo.(*tg.UserProfilePhoto); ok && photo != nil {
			record.photoID = photo.PhotoID
		}
		c.users[user.ID] = record
	}
}

// ResolveGroup returns the input peer for a marked group id.
func (c *PeerCache) ResolveGroup(groupID int64) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve group peer: nil cache")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	peer, ok := c.byGroup[groupID]
	if !ok {
		return nil, fmt.Errorf("resolve group peer %d: %w", groupID, tgview.ErrGroupNotFound)
	}

	return cloneInputPeer(peer), nil
}

// ResolveUser returns the input peer and current profile photo id for a user.
//
// A zero photo id means the user had no profile photo when last seen.
func (c *PeerCache) ResolveUser(userID int64) (*tg.InputPeerUser, int64, error) {
	if c == nil {
		return nil, 0, fmt.Errorf("resolve user peer: nil cache")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.users[userID]
	if !ok || record.peer == nil {
		return nil, 0, fmt.Errorf("resolve user peer %d: unknown user", userID)
	}
	copyPeer := *record.peer

	return &copyPeer, record.photoID, nil
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}

func markedChatID(chatID int64) int64 {
	return -chatID
}

func markedChannelID(channelID int64) int64 {
	return -(channelIDOffset + channelID)
}
