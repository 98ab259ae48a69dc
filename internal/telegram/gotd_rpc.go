package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"tgview/pkg/tgview"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
)

const dialogBatchSize = 100

// dialogEntry is one group dialog together with its input peer.
type dialogEntry struct {
	group tgview.Group
	peer  tg.InputPeerClass
}

type gatewayRPC interface {
	Self(ctx context.Context) (*tg.User, error)
	Dialogs(ctx context.Context) ([]dialogEntry, error)
	History(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	Search(ctx context.Context, request *tg.MessagesSearchRequest) (tg.MessagesMessagesClass, error)
	Message(ctx context.Context, peer tg.InputPeerClass, messageID int) (*tg.Message, error)
	Participants(
		ctx context.Context,
		request *tg.ChannelsGetParticipantsRequest,
	) (tg.ChannelsChannelParticipantsClass, error)
	FullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	Download(ctx context.Context, location tg.InputFileLocationClass, maxBytes int64) ([]byte, error)
	SendText(ctx context.Context, peer tg.InputPeerClass, text string) (int, error)
	SendFile(ctx context.Context, peer tg.InputPeerClass, upload tgview.FileUpload) (int, error)
}

type gotdGatewayRPC struct {
	raw        *tg.Client
	sender     *message.Sender
	uploader   *uploader.Uploader
	downloader *downloader.Downloader
}

func newGotdGatewayRPC(client *gotdtelegram.Client) gotdGatewayRPC {
	raw := client.API()

	return gotdGatewayRPC{
		raw:        raw,
		sender:     message.NewSender(raw),
		uploader:   uploader.NewUploader(raw),
		downloader: downloader.NewDownloader(),
	}
}

func (r gotdGatewayRPC) Self(ctx context.Context) (*tg.User, error) {
	users, err := r.raw.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUserSelf{}})
	if err != nil {
		return nil, fmt.Errorf("get self: %w", err)
	}
	for _, user := range users {
		if typed, ok := user.(*tg.User); ok && typed != nil {
			return typed, nil
		}
	}

	return nil, fmt.Errorf("get self: empty user list")
}

func (r gotdGatewayRPC) Dialogs(ctx context.Context) ([]dialogEntry, error) {
	entries := make([]dialogEntry, 0, dialogBatchSize)
	err := query.GetDialogs(r.raw).BatchSize(dialogBatchSize).ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		var chat tg.ChatClass
		switch peer := elem.Dialog.GetPeer().(type) {
		case *tg.PeerChat:
			found, ok := elem.Entities.Chat(peer.ChatID)
			if !ok {
				return nil
			}
			chat = found
		case *tg.PeerChannel:
			found, ok := elem.Entities.Channel(peer.ChannelID)
			if !ok {
				return nil
			}
			chat = found
		default:
			return nil
		}

		group, inputPeer, ok := groupFromChat(chat)
		if !ok {
			return nil
		}
		if elem.Peer != nil {
			inputPeer = elem.Peer
		}
		entries = append(entries, dialogEntry{group: group, peer: inputPeer})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate dialogs: %w", err)
	}

	return entries, nil
}

func (r gotdGatewayRPC) History(
	ctx context.Context,
	request *tg.MessagesGetHistoryRequest,
) (tg.MessagesMessagesClass, error) {
	response, err := r.raw.MessagesGetHistory(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	return response, nil
}

func (r gotdGatewayRPC) Search(
	ctx context.Context,
	request *tg.MessagesSearchRequest,
) (tg.MessagesMessagesClass, error) {
	response, err := r.raw.MessagesSearch(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	return response, nil
}

func (r gotdGatewayRPC) Message(ctx context.Context, peer tg.InputPeerClass, messageID int) (*tg.Message, error) {
	input := []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}}

	var (
		response tg.MessagesMessagesClass
		err      error
	)
	if channel, ok := peer.(*tg.InputPeerChannel); ok {
		response, err = r.raw.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{
				ChannelID:  channel.ChannelID,
				AccessHash: channel.AccessHash,
			},
			ID: input,
		})
	} else {
		response, err = r.raw.MessagesGetMessages(ctx, input)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", messageID, err)
	}

	modified, ok := response.AsModified()
	if !ok {
		return nil, fmt.Errorf("get message %d: %w", messageID, tgview.ErrMessageNotFound)
	}
	for _, messageClass := range modified.GetMessages() {
		if msg, ok := messageClass.(*tg.Message); ok && msg != nil && msg.ID == messageID {
			return msg, nil
		}
	}

	return nil, fmt.Errorf("get message %d: %w", messageID, tgview.ErrMessageNotFound)
}

func (r gotdGatewayRPC) Participants(
	ctx context.Context,
	request *tg.ChannelsGetParticipantsRequest,
) (tg.ChannelsChannelParticipantsClass, error) {
	response, err := r.raw.ChannelsGetParticipants(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}

	return response, nil
}

func (r gotdGatewayRPC) FullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error) {
	response, err := r.raw.MessagesGetFullChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get full chat %d: %w", chatID, err)
	}

	return response, nil
}

func (r gotdGatewayRPC) Download(
	ctx context.Context,
	location tg.InputFileLocationClass,
	maxBytes int64,
) ([]byte, error) {
	buffer := cappedBuffer{max: maxBytes}
	if _, err := r.downloader.Download(r.raw, location).Stream(ctx, &buffer); err != nil {
		if errors.Is(err, tgview.ErrMediaTooLarge) {
			return nil, tgview.ErrMediaTooLarge
		}
		return nil, fmt.Errorf("download file: %w", err)
	}

	return buffer.Bytes(), nil
}

func (r gotdGatewayRPC) SendText(ctx context.Context, peer tg.InputPeerClass, text string) (int, error) {
	id, err := unpack.MessageID(r.sender.To(peer).Text(ctx, text))
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	return id, nil
}

func (r gotdGatewayRPC) SendFile(ctx context.Context, peer tg.InputPeerClass, upload tgview.FileUpload) (int, error) {
	file, err := r.uploader.FromBytes(ctx, upload.Name, upload.Data)
	if err != nil {
		return 0, fmt.Errorf("upload file %s: %w", upload.Name, err)
	}

	var caption []styling.StyledTextOption
	if upload.Caption != "" {
		caption = append(caption, styling.Plain(upload.Caption))
	}
	document := message.UploadedDocument(file, caption...).
		Filename(upload.Name).
		ForceFile(true)
	if upload.MIMEType != "" {
		document = document.MIME(upload.MIMEType)
	}

	id, err := unpack.MessageID(r.sender.To(peer).Media(ctx, document))
	if err != nil {
		return 0, fmt.Errorf("send document: %w", err)
	}

	return id, nil
}

// cappedBuffer collects a download and fails once it exceeds max bytes.
type cappedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max > 0 && int64(b.buf.Len()+len(p)) > b.max {
		return 0, tgview.ErrMediaTooLarge
	}

	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
