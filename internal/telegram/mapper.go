package telegram

import (
	"fmt"
	"strings"
	"time"

	"tgview/pkg/tgview"

	"github.com/gotd/td/tg"
)

// entityLookup indexes the users and chats attached to one RPC response.
type entityLookup struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func buildEntityLookup(users []tg.UserClass, chats []tg.ChatClass) entityLookup {
	lookup := entityLookup{
		users:    make(map[int64]*tg.User, len(users)),
		chats:    map[int64]*tg.Chat{},
		channels: map[int64]*tg.Channel{},
	}
	for _, userClass := range users {
		if user, ok := userClass.(*tg.User); ok && user != nil {
			lookup.users[user.ID] = user
		}
	}
	for _, chatClass := range chats {
		switch entry := chatClass.(type) {
		case *tg.Chat:
			if entry != nil {
				lookup.chats[entry.ID] = entry
			}
		case *tg.Channel:
			if entry != nil {
				lookup.channels[entry.ID] = entry
			}
		}
	}

	return lookup
}

// groupFromChat maps one chat entity into a neutral group plus its input peer.
//
// Chats the account can no longer read are skipped.
func groupFromChat(chat tg.ChatClass) (tgview.Group, tg.InputPeerClass, bool) {
	switch typed := chat.(type) {
	case *tg.Chat:
		if typed == nil || typed.Deactivated || typed.Left {
			return tgview.Group{}, nil, false
		}
		return tgview.Group{
			ID:   markedChatID(typed.ID),
			Name: chatTitle(typed.Title, markedChatID(typed.ID)),
			Kind: tgview.GroupKindGroup,
		}, typed.AsInputPeer(), true
	case *tg.Channel:
		if typed == nil || typed.Left {
			return tgview.Group{}, nil, false
		}
		kind := tgview.GroupKindChannel
		if typed.Megagroup || typed.Gigagroup {
			kind = tgview.GroupKindSupergroup
		}
		return tgview.Group{
			ID:   markedChannelID(typed.ID),
			Name: chatTitle(typed.Title, markedChannelID(typed.ID)),
			Kind: kind,
		}, typed.AsInputPeer(), true
	default:
		return tgview.Group{}, nil, false
	}
}

func chatTitle(title string, id int64) string {
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		return trimmed
	}

	return fmt.Sprintf("Chat %d", id)
}

// mapMessages converts one history or search response page, newest first.
func mapMessages(groupID int64, messages []tg.MessageClass, entities entityLookup) []tgview.Message {
	out := make([]tgview.Message, 0, len(messages))
	for _, messageClass := range messages {
		switch typed := messageClass.(type) {
		case *tg.Message:
			if typed == nil {
				continue
			}
			out = append(out, mapMessage(groupID, typed, entities))
		case *tg.MessageService:
			if typed == nil {
				continue
			}
			out = append(out, mapServiceMessage(groupID, typed, entities))
		}
	}

	return out
}

func mapMessage(groupID int64, msg *tg.Message, entities entityLookup) tgview.Message {
	senderID, senderName := resolveSender(msg.FromID, msg.Out, entities)
	if senderName == "" {
		if postAuthor, ok := msg.GetPostAuthor(); ok && strings.TrimSpace(postAuthor) != "" {
			senderName = postAuthor
		}
	}

	mapped := tgview.Message{
		ID:         msg.ID,
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       msg.Message,
		Date:       intToTimeUTC(msg.Date),
		Outgoing:   msg.Out,
		Media:      mapMediaRef(msg.Media),
	}
	if replyTo, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok && replyTo != nil {
		mapped.ReplyToID = replyTo.ReplyToMsgID
	}

	return mapped
}

func mapServiceMessage(groupID int64, msg *tg.MessageService, entities entityLookup) tgview.Message {
	senderID, senderName := resolveSender(msg.FromID, msg.Out, entities)

	return tgview.Message{
		ID:         msg.ID,
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       describeServiceAction(msg.Action),
		Date:       intToTimeUTC(msg.Date),
		Outgoing:   msg.Out,
	}
}

func describeServiceAction(action tg.MessageActionClass) string {
	switch typed := action.(type) {
	case *tg.MessageActionChatCreate:
		return "created the group " + typed.Title
	case *tg.MessageActionChatEditTitle:
		return "changed the title to " + typed.Title
	case *tg.MessageActionChatEditPhoto:
		return "changed the group photo"
	case *tg.MessageActionChatDeletePhoto:
		return "removed the group photo"
	case *tg.MessageActionChatAddUser:
		return "added members"
	case *tg.MessageActionChatDeleteUser:
		return "removed a member"
	case *tg.MessageActionChatJoinedByLink, *tg.MessageActionChatJoinedByRequest:
		return "joined the group"
	case *tg.MessageActionPinMessage:
		return "pinned a message"
	case *tg.MessageActionChannelCreate:
		return "created the channel " + typed.Title
	case *tg.MessageActionChatMigrateTo, *tg.MessageActionChannelMigrateFrom:
		return "upgraded the group"
	default:
		return "service message"
	}
}

func resolveSender(from tg.PeerClass, outgoing bool, entities entityLookup) (int64, string) {
	switch peer := from.(type) {
	case *tg.PeerUser:
		if user, ok := entities.users[peer.UserID]; ok && user != nil {
			if user.Self {
				return peer.UserID, "You"
			}
			return peer.UserID, userDisplayName(user)
		}
		return peer.UserID, fmt.Sprintf("User %d", peer.UserID)
	case *tg.PeerChat:
		if chat, ok := entities.chats[peer.ChatID]; ok && chat != nil {
			return markedChatID(peer.ChatID), chatTitle(chat.Title, markedChatID(peer.ChatID))
		}
		return markedChatID(peer.ChatID), fmt.Sprintf("Chat %d", peer.ChatID)
	case *tg.PeerChannel:
		if channel, ok := entities.channels[peer.ChannelID]; ok && channel != nil {
			return markedChannelID(peer.ChannelID), chatTitle(channel.Title, markedChannelID(peer.ChannelID))
		}
		return markedChannelID(peer.ChannelID), fmt.Sprintf("Channel %d", peer.ChannelID)
	}

	if outgoing {
		return 0, "You"
	}

	return 0, ""
}

func userDisplayName(user *tg.User) string {
	if user == nil {
		return ""
	}

	return tgview.DisplayName(user.FirstName, user.LastName, user.Username, user.ID)
}

// mapMediaRef classifies one message attachment.
func mapMediaRef(media tg.MessageMediaClass) *tgview.MediaRef {
	switch typed := media.(type) {
	case nil, *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok || photo == nil {
			return &tgview.MediaRef{Kind: tgview.MediaKindPhoto}
		}
		full, ok := photo.AsNotEmpty()
		if !ok {
			return &tgview.MediaRef{Kind: tgview.MediaKindPhoto}
		}
		_, size, found := largestPhotoSize(full.Sizes)
		return &tgview.MediaRef{
			Kind:         tgview.MediaKindPhoto,
			MIMEType:     "image/jpeg",
			Size:         int64(size),
			Downloadable: found,
		}
	case *tg.MessageMediaDocument:
		documentClass, ok := typed.GetDocument()
		if !ok || documentClass == nil {
			return &tgview.MediaRef{Kind: tgview.MediaKindDocument}
		}
		document, ok := documentClass.AsNotEmpty()
		if !ok {
			return &tgview.MediaRef{Kind: tgview.MediaKindDocument}
		}
		return &tgview.MediaRef{
			Kind:         mediaKindFromDocument(document.MimeType, document.Attributes),
			MIMEType:     document.MimeType,
			FileName:     documentFileName(document.Attributes),
			Size:         document.Size,
			Downloadable: true,
		}
	default:
		return &tgview.MediaRef{Kind: tgview.MediaKindOther}
	}
}

func mediaKindFromDocument(mimeType string, attributes []tg.DocumentAttributeClass) tgview.MediaKind {
	for _, attribute := range attributes {
		switch typed := attribute.(type) {
		case *tg.DocumentAttributeSticker:
			return tgview.MediaKindSticker
		case *tg.DocumentAttributeAnimated:
			return tgview.MediaKindAnimation
		case *tg.DocumentAttributeAudio:
			if typed.Voice {
				return tgview.MediaKindVoice
			}
			return tgview.MediaKindAudio
		}
	}
	for _, attribute := range attributes {
		if _, ok := attribute.(*tg.DocumentAttributeVideo); ok {
			return tgview.MediaKindVideo
		}
	}

	switch {
	case strings.HasPrefix(mimeType, "image/gif"):
		return tgview.MediaKindAnimation
	case strings.HasPrefix(mimeType, "video/"):
		return tgview.MediaKindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return tgview.MediaKindAudio
	default:
		return tgview.MediaKindDocument
	}
}

func documentFileName(attributes []tg.DocumentAttributeClass) string {
	for _, attribute := range attributes {
		typed, ok := attribute.(*tg.DocumentAttributeFilename)
		if !ok {
			continue
		}
		return typed.FileName
	}

	return ""
}

// largestPhotoSize returns the thumb type and byte size of the biggest
// downloadable photo size.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int, bool) {
	bestType := ""
	bestArea := -1
	bestBytes := 0
	for _, sizeClass := range sizes {
		var (
			sizeType string
			area     int
			bytes    int
		)
		switch typed := sizeClass.(type) {
		case *tg.PhotoSize:
			sizeType, area, bytes = typed.Type, typed.W*typed.H, typed.Size
		case *tg.PhotoSizeProgressive:
			sizeType, area = typed.Type, typed.W*typed.H
			if len(typed.Sizes) > 0 {
				bytes = typed.Sizes[len(typed.Sizes)-1]
			}
		default:
			continue
		}
		if sizeType == "" || area <= bestArea {
			continue
		}
		bestType, bestArea, bestBytes = sizeType, area, bytes
	}

	return bestType, bestBytes, bestType != ""
}

// mediaLocation picks the download location and neutral reference for one message.
func mediaLocation(msg *tg.Message) (tg.InputFileLocationClass, tgview.MediaRef, error) {
	ref := mapMediaRef(msg.Media)
	if ref == nil || !ref.Downloadable {
		return nil, tgview.MediaRef{}, fmt.Errorf("message %d: %w", msg.ID, tgview.ErrNoMedia)
	}

	switch typed := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photoClass, _ := typed.GetPhoto()
		photo, ok := photoClass.AsNotEmpty()
		if !ok {
			return nil, tgview.MediaRef{}, fmt.Errorf("message %d: %w", msg.ID, tgview.ErrNoMedia)
		}
		thumbType, _, _ := largestPhotoSize(photo.Sizes)
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumbType,
		}, *ref, nil
	case *tg.MessageMediaDocument:
		documentClass, _ := typed.GetDocument()
		document, ok := documentClass.AsNotEmpty()
		if !ok {
			return nil, tgview.MediaRef{}, fmt.Errorf("message %d: %w", msg.ID, tgview.ErrNoMedia)
		}
		return document.AsInputDocumentFileLocation(), *ref, nil
	default:
		return nil, tgview.MediaRef{}, fmt.Errorf("message %d: %w", msg.ID, tgview.ErrNoMedia)
	}
}

func mapChannelParticipants(participants []tg.ChannelParticipantClass, entities entityLookup) []tgview.Member {
	out := make([]tgview.Member, 0, len(participants))
	for _, participant := range participants {
		var (
			userID int64
			role   tgview.MemberRole
		)
		switch typed := participant.(type) {
		case *tg.ChannelParticipantCreator:
			userID, role = typed.UserID, tgview.MemberRoleCreator
		case *tg.ChannelParticipantAdmin:
			userID, role = typed.UserID, tgview.MemberRoleAdmin
		case *tg.ChannelParticipant:
			userID, role = typed.UserID, tgview.MemberRoleMember
		case *tg.ChannelParticipantSelf:
			userID, role = typed.UserID, tgview.MemberRoleMember
		default:
			continue
		}
		out = append(out, mapMember(userID, role, entities))
	}

	return out
}

func mapChatParticipants(participants []tg.ChatParticipantClass, entities entityLookup) []tgview.Member {
	out := make([]tgview.Member, 0, len(participants))
	for _, participant := range participants {
		var role tgview.MemberRole
		switch participant.(type) {
		case *tg.ChatParticipantCreator:
			role = tgview.MemberRoleCreator
		case *tg.ChatParticipantAdmin:
			role = tgview.MemberRoleAdmin
		case *tg.ChatParticipant:
			role = tgview.MemberRoleMember
		default:
			continue
		}
		out = append(out, mapMember(participant.GetUserID(), role, entities))
	}

	return out
}

func mapMember(userID int64, role tgview.MemberRole, entities entityLookup) tgview.Member {
	member := tgview.Member{
		UserID: userID,
		Name:   fmt.Sprintf("User %d", userID),
		Role:   role,
	}

	user, ok := entities.users[userID]
	if !ok || user == nil {
		return member
	}
	member.Name = userDisplayName(user)
	member.Username = user.Username
	member.Bot = user.Bot
	if photo, ok := user.Photo.(*tg.UserProfilePhoto); ok && photo != nil {
		member.HasPhoto = true
	}

	return member
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}
