package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tgview/pkg/tgview"

	"github.com/gotd/td/tg"
)

// Gateway implements tgview.Messenger over the gotd client.
type Gateway struct {
	cfg      gatewayConfig
	peers    *PeerCache
	telegram gatewayRPC
	login    *loginTracker
}

type gatewayConfig struct {
	rpcTimeout   time.Duration
	maxItemBytes int64
	logger       *slog.Logger
}

// GatewayOption mutates gateway configuration.
type GatewayOption func(*gatewayConfig)

// WithRPCTimeout bounds each RPC round trip.
func WithRPCTimeout(timeout time.Duration) GatewayOption {
	return func(cfg *gatewayConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithMaxItemBytes caps media downloads and file uploads.
func WithMaxItemBytes(limit int64) GatewayOption {
	return func(cfg *gatewayConfig) {
		if limit > 0 {
			cfg.maxItemBytes = limit
		}
	}
}

// WithGatewayLogger configures structured logging for gateway operations.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(cfg *gatewayConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// NewGateway creates a gateway over one RPC adapter.
func NewGateway(
	rpc gatewayRPC,
	peers *PeerCache,
	login *loginTracker,
	options ...GatewayOption,
) (*Gateway, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram gateway: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram gateway: nil peer cache")
	}
	if login == nil {
		return nil, fmt.Errorf("new telegram gateway: nil login tracker")
	}

	cfg := gatewayConfig{
		rpcTimeout:   defaultRPCTimeout,
		maxItemBytes: defaultMaxItemBytes,
		logger:       slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Gateway{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
		login:    login,
	}, nil
}

// Status reports the current session authorization state.
func (g *Gateway) Status() tgview.LoginStatus {
	return g.login.Status()
}

// Self returns the authorized account.
func (g *Gateway) Self(ctx context.Context) (tgview.Account, error) {
	if err := g.ensureReady(); err != nil {
		return tgview.Account{}, fmt.Errorf("self: %w", err)
	}

	rpcCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	user, err := g.telegram.Self(rpcCtx)
	if err != nil {
		return tgview.Account{}, fmt.Errorf("self: %w", mapTelegramError(tgview.OperationSelf, err))
	}

	return tgview.Account{
		ID:       user.ID,
		Name:     userDisplayName(user),
		Username: user.Username,
		Phone:    user.Phone,
	}, nil
}

// ListGroups returns every group, supergroup and channel in dialog order.
func (g *Gateway) ListGroups(ctx context.Context) ([]tgview.Group, error) {
	if err := g.ensureReady(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	// Dialog iteration pages internally; bound it by the caller's context only.
	entries, err := g.telegram.Dialogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", mapTelegramError(tgview.OperationListGroups, err))
	}

	groups := make([]tgview.Group, 0, len(entries))
	for _, entry := range entries {
		g.peers.RememberGroup(entry.group.ID, entry.peer)
		groups = append(groups, entry.group)
	}
	g.cfg.logger.DebugContext(ctx, "telegram groups listed", "count", len(groups))

	return groups, nil
}

// History returns one page of messages, newest first.
func (g *Gateway) History(ctx context.Context, group tgview.Group, query tgview.HistoryQuery) ([]tgview.Message, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("history validate: %w", err)
	}
	if err := g.ensureReady(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	peer, err := g.peers.ResolveGroup(group.ID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	rpcCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	var response tg.MessagesMessagesClass
	if query.Searching() {
		response, err = g.telegram.Search(rpcCtx, &tg.MessagesSearchRequest{
			Peer:     peer,
			Q:        strings.TrimSpace(query.Query),
			Filter:   &tg.InputMessagesFilterEmpty{},
			OffsetID: query.OffsetID,
			Limit:    query.Limit,
		})
	} else {
		response, err = g.telegram.History(rpcCtx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: query.OffsetID,
			Limit:    query.Limit,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("history of %d: %w", group.ID, mapTelegramError(tgview.OperationHistory, err))
	}

	modified, ok := response.AsModified()
	if !ok {
		return []tgview.Message{}, nil
	}
	g.peers.RememberUsers(modified.GetUsers())

	messages := mapMessages(group.ID, modified.GetMessages(), buildEntityLookup(modified.GetUsers(), modified.GetChats()))
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ID > messages[j].ID
	})

	return messages, nil
}

// Members returns one page of participants.
func (g *Gateway) Members(ctx context.Context, group tgview.Group, query tgview.MemberQuery) (tgview.MemberPage, error) {
	if err := query.Validate(); err != nil {
		return tgview.MemberPage{}, fmt.Errorf("members validate: %w", err)
	}
	if err := g.ensureReady(); err != nil {
		return tgview.MemberPage{}, fmt.Errorf("members: %w", err)
	}

	peer, err := g.peers.ResolveGroup(group.ID)
	if err != nil {
		return tgview.MemberPage{}, fmt.Errorf("members: %w", err)
	}

	rpcCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	var page tgview.MemberPage
	switch typed := peer.(type) {
	case *tg.InputPeerChannel:
		page, err = g.channelMembers(rpcCtx, typed, query)
	case *tg.InputPeerChat:
		page, err = g.chatMembers(rpcCtx, typed, query)
	default:
		return tgview.MemberPage{}, fmt.Errorf("members of %d: %w: unsupported peer %T", group.ID, tgview.ErrInvalidRequest, peer)
	}
	if err != nil {
		return tgview.MemberPage{}, fmt.Errorf("members of %d: %w", group.ID, mapTelegramError(tgview.OperationMembers, err))
	}

	return page, nil
}

func (g *Gateway) channelMembers(
	ctx context.Context,
	peer *tg.InputPeerChannel,
	query tgview.MemberQuery,
) (tgview.MemberPage, error) {
	var filter tg.ChannelParticipantsFilterClass = &tg.ChannelParticipantsRecent{}
	if search := strings.TrimSpace(query.Search); search != "" {
		filter = &tg.ChannelParticipantsSearch{Q: search}
	}

	response, err := g.telegram.Participants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: &tg.InputChannel{
			ChannelID:  peer.ChannelID,
			AccessHash: peer.AccessHash,
		},
		Filter: filter,
		Offset: query.Offset,
		Limit:  query.Limit,
	})
	if err != nil {
		return tgview.MemberPage{}, err
	}

	participants, ok := response.AsModified()
	if !ok {
		return tgview.MemberPage{Members: []tgview.Member{}}, nil
	}
	g.peers.RememberUsers(participants.Users)

	return tgview.MemberPage{
		Members: mapChannelParticipants(participants.Participants, buildEntityLookup(participants.Users, participants.Chats)),
		Scanned: len(participants.Participants),
	}, nil
}

// chatMembers lists basic group members, which Telegram returns in one piece.
func (g *Gateway) chatMembers(
	ctx context.Context,
	peer *tg.InputPeerChat,
	query tgview.MemberQuery,
) (tgview.MemberPage, error) {
	full, err := g.telegram.FullChat(ctx, peer.ChatID)
	if err != nil {
		return tgview.MemberPage{}, err
	}
	g.peers.RememberUsers(full.Users)

	chatFull, ok := full.FullChat.(*tg.ChatFull)
	if !ok || chatFull == nil {
		return tgview.MemberPage{Members: []tgview.Member{}}, nil
	}
	participants, ok := chatFull.Participants.(*tg.ChatParticipants)
	if !ok || participants == nil {
		return tgview.MemberPage{}, &tgview.Error{
			Operation: tgview.OperationMembers,
			Kind:      tgview.ErrorKindForbidden,
			Cause:     fmt.Errorf("participant list of chat %d is not visible", peer.ChatID),
		}
	}

	members := mapChatParticipants(participants.Participants, buildEntityLookup(full.Users, full.Chats))
	if search := strings.ToLower(strings.TrimSpace(query.Search)); search != "" {
		filtered := members[:0]
		for _, member := range members {
			if strings.Contains(strings.ToLower(member.Name), search) ||
				strings.Contains(strings.ToLower(member.Username), search) {
				filtered = append(filtered, member)
			}
		}
		members = filtered
	}

	if query.Offset >= len(members) {
		return tgview.MemberPage{Members: []tgview.Member{}}, nil
	}
	end := min(query.Offset+query.Limit, len(members))

	return tgview.MemberPage{
		Members: append([]tgview.Member(nil), members[query.Offset:end]...),
		Scanned: end - query.Offset,
	}, nil
}

// DownloadMedia fetches the attachment of one message.
func (g *Gateway) DownloadMedia(ctx context.Context, group tgview.Group, messageID int) (tgview.Media, error) {
	if messageID <= 0 {
		return tgview.Media{}, fmt.Errorf("download media: %w: message id must be > 0", tgview.ErrInvalidRequest)
	}
	if err := g.ensureReady(); err != nil {
		return tgview.Media{}, fmt.Errorf("download media: %w", err)
	}

	peer, err := g.peers.ResolveGroup(group.ID)
	if err != nil {
		return tgview.Media{}, fmt.Errorf("download media: %w", err)
	}

	media, err := g.downloadMessageMedia(ctx, peer, messageID)
	if err != nil && isFileReferenceError(err) {
		// A refetched message carries a fresh file reference.
		g.cfg.logger.DebugContext(ctx, "telegram file reference expired, refetching", "message_id", messageID)
		media, err = g.downloadMessageMedia(ctx, peer, messageID)
	}
	if err != nil {
		return tgview.Media{}, fmt.Errorf(
			"download media %d/%d: %w",
			group.ID,
			messageID,
			mapTelegramError(tgview.OperationDownloadMedia, err),
		)
	}

	return media, nil
}

func (g *Gateway) downloadMessageMedia(ctx context.Context, peer tg.InputPeerClass, messageID int) (tgview.Media, error) {
	rpcCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	msg, err := g.telegram.Message(rpcCtx, peer, messageID)
	if err != nil {
		return tgview.Media{}, err
	}

	location, ref, err := mediaLocation(msg)
	if err != nil {
		return tgview.Media{}, err
	}
	if ref.Size > g.cfg.maxItemBytes {
		return tgview.Media{}, fmt.Errorf("%d bytes: %w", ref.Size, tgview.ErrMediaTooLarge)
	}

	data, err := g.telegram.Download(ctx, location, g.cfg.maxItemBytes)
	if err != nil {
		return tgview.Media{}, err
	}
	ref.Size = int64(len(data))

	return tgview.Media{Ref: ref, Data: data}, nil
}

// ProfilePhoto fetches the small profile photo of one user.
func (g *Gateway) ProfilePhoto(ctx context.Context, userID int64) ([]byte, error) {
	if err := g.ensureReady(); err != nil {
		return nil, fmt.Errorf("profile photo: %w", err)
	}

	peer, photoID, err := g.peers.ResolveUser(userID)
	if err != nil {
		return nil, fmt.Errorf("profile photo of %d: %w: %v", userID, tgview.ErrNoMedia, err)
	}
	if photoID == 0 {
		return nil, fmt.Errorf("profile photo of %d: %w", userID, tgview.ErrNoMedia)
	}

	rpcCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	data, err := g.telegram.Download(rpcCtx, &tg.InputPeerPhotoFileLocation{
		Peer:    peer,
		PhotoID: photoID,
	}, g.cfg.maxItemBytes)
	if err != nil {
		return nil, fmt.Errorf("profile photo of %d: %w", userID, mapTelegramError(tgview.OperationProfilePhoto, err))
	}

	return data, nil
}

// SendText posts a plain text message and returns its id.
func (g *Gateway) SendText(ctx context.Context, group tgview.Group, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("send text validate: %w: empty text", tgview.ErrInvalidRequest)
	}
	if err := g.ensureReady(); err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	peer, err := g.peers.ResolveGroup(group.ID)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	rpcCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	id, err := g.telegram.SendText(rpcCtx, peer, text)
	if err != nil {
		return 0, fmt.Errorf("send text to %d: %w", group.ID, mapTelegramError(tgview.OperationSendText, err))
	}

	g.logOutbound(ctx, tgview.OperationSendText, "group_id", group.ID, "message_id", id)

	return id, nil
}

// SendFile uploads a file and posts it as a document, returning the message id.
func (g *Gateway) SendFile(ctx context.Context, group tgview.Group, upload tgview.FileUpload) (int, error) {
	if err := upload.Validate(); err != nil {
		return 0, fmt.Errorf("send file validate: %w", err)
	}
	if int64(len(upload.Data)) > g.cfg.maxItemBytes {
		return 0, fmt.Errorf("send file: %d bytes: %w", len(upload.Data), tgview.ErrMediaTooLarge)
	}
	if err := g.ensureReady(); err != nil {
		return 0, fmt.Errorf("send file: %w", err)
	}

	peer, err := g.peers.ResolveGroup(group.ID)
	if err != nil {
		return 0, fmt.Errorf("send file: %w", err)
	}

	// Uploads stream in parts and are bounded by the caller's context only.
	id, err := g.telegram.SendFile(ctx, peer, upload)
	if err != nil {
		return 0, fmt.Errorf("send file to %d: %w", group.ID, mapTelegramError(tgview.OperationSendFile, err))
	}

	g.logOutbound(ctx, tgview.OperationSendFile,
		"group_id", group.ID,
		"message_id", id,
		"file_name", upload.Name,
		"size", len(upload.Data),
	)

	return id, nil
}

func (g *Gateway) ensureReady() error {
	if !g.login.Ready() {
		return tgview.ErrNotReady
	}

	return nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, g.cfg.rpcTimeout)
}

func (g *Gateway) logOutbound(ctx context.Context, operation tgview.Operation, attrs ...any) {
	values := make([]any, 0, 2+len(attrs))
	values = append(values, "operation", operation)
	values = append(values, attrs...)
	g.cfg.logger.InfoContext(ctx, "telegram outbound operation", values...)
}

var _ tgview.Messenger = (*Gateway)(nil)
