package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tgview/internal/cache"
	"tgview/internal/pagination"
	"tgview/pkg/tgview"
)

const (
	maxTextFormBytes    = 64 * 1024
	multipartOverhead   = 1 << 20
	multipartMemory     = 8 << 20
	mediaCacheControl   = "private, max-age=86400"
	sniffFallbackMIME   = "application/octet-stream"
	sniffTextPlainMIME  = "text/plain; charset=utf-8"
	defaultRedirectPath = "/groups"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"telegram": string(s.messenger.Status().State),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	page := loginPage{Status: s.messenger.Status()}
	if page.Status.State == tgview.LoginStateReady {
		account, err := s.messenger.Self(r.Context())
		if err != nil {
			s.cfg.logger.Warn("load telegram account failed", "request_id", requestIDFrom(r.Context()), "error", err)
		} else {
			page.Account = &account
		}
	}

	s.render(w, r, http.StatusOK, "login", page)
}

func (s *Server) handleSessionForm(w http.ResponseWriter, r *http.Request) {
	if !s.guard.enabled() {
		http.Redirect(w, r, defaultRedirectPath, http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "session", sessionPage{Next: safeRedirect(r.URL.Query().Get("next"))})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.guard.enabled() {
		http.Redirect(w, r, defaultRedirectPath, http.StatusSeeOther)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxTextFormBytes)
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, formError(err))
		return
	}

	next := safeRedirect(r.PostFormValue("next"))
	if !s.guard.checkPassword(r.PostFormValue("password")) {
		s.cfg.logger.Warn("access password rejected", "request_id", requestIDFrom(r.Context()))
		s.render(w, r, http.StatusUnauthorized, "session", sessionPage{Next: next, Failed: true})
		return
	}

	value, expires := s.guard.issue()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.Groups(r.Context())
	if err != nil {
		s.writeError(w, r, fmt.Errorf("list groups: %w", err))
		return
	}

	s.render(w, r, http.StatusOK, "groups", groupsPage{Groups: groups})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	params := s.parseMessageParams(r.URL.Query())
	messages, next, err := s.loadMessages(r.Context(), group, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, message := range messages {
		views = append(views, newMessageView(message))
	}

	page := messagesPage{
		Group:     group,
		Messages:  views,
		Query:     params.query,
		Offset:    params.offset,
		Limit:     params.limit,
		CanDigest: s.cfg.summarizer != nil && len(messages) > 0,
	}
	if next != "" {
		page.NextURL = messagesURL(group.ID, params.query, next, params.limit)
	}

	s.render(w, r, http.StatusOK, "messages", page)
}

type apiMessage struct {
	ID         int       `json:"id"`
	GroupID    int64     `json:"group_id"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Date       time.Time `json:"date"`
	Outgoing   bool      `json:"outgoing"`
	ReplyToID  int       `json:"reply_to_id,omitempty"`
	Media      *apiMedia `json:"media,omitempty"`
}

type apiMedia struct {
	Kind         tgview.MediaKind `json:"kind"`
	MIMEType     string           `json:"mime_type,omitempty"`
	FileName     string           `json:"file_name,omitempty"`
	Size         int64            `json:"size,omitempty"`
	URL          string           `json:"url,omitempty"`
	DisplayClass string           `json:"display_class"`
}

type apiMessagePage struct {
	Messages   []apiMessage `json:"messages"`
	NextOffset string       `json:"next_offset"`
}

func (s *Server) handleMessagesAPI(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	messages, next, err := s.loadMessages(r.Context(), group, s.parseMessageParams(r.URL.Query()))
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	page := apiMessagePage{Messages: make([]apiMessage, 0, len(messages)), NextOffset: next}
	for _, message := range messages {
		item := apiMessage{
			ID:         message.ID,
			GroupID:    message.GroupID,
			SenderID:   message.SenderID,
			SenderName: message.SenderName,
			Text:       message.Text,
			Date:       message.Date.UTC(),
			Outgoing:   message.Outgoing,
			ReplyToID:  message.ReplyToID,
		}
		if ref := message.Media; ref != nil {
			item.Media = &apiMedia{
				Kind:         ref.Kind,
				MIMEType:     ref.MIMEType,
				FileName:     ref.FileName,
				Size:         ref.Size,
				DisplayClass: ref.Kind.DisplayClass(),
			}
			if ref.Downloadable {
				item.Media.URL = mediaURL(group.ID, message.ID, ref.Kind)
			}
		}
		page.Messages = append(page.Messages, item)
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	values := r.URL.Query()
	search := strings.TrimSpace(values.Get("q"))
	limit := pagination.ClampLimit(values.Get("limit"), s.cfg.pageSize, s.cfg.maxPageSize)
	cursor, err := pagination.DecodeMemberCursor(values.Get("offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	fetched, err := s.messenger.Members(r.Context(), group, tgview.MemberQuery{
		Offset: cursor.Position,
		Limit:  limit,
		Search: search,
	})
	if err != nil {
		s.writeError(w, r, fmt.Errorf("list members of %d: %w", group.ID, err))
		return
	}

	members := append([]tgview.Member(nil), pagination.SkipSeenMembers(fetched.Members, cursor.LastUserID)...)
	s.attachPhotos(r.Context(), members)

	page := membersPage{Group: group, Members: members, Search: search}
	if next := pagination.NextMemberToken(cursor.Position, fetched, limit); next != "" {
		query := url.Values{"offset": {next}, "limit": {strconv.Itoa(limit)}}
		if search != "" {
			query.Set("q", search)
		}
		page.NextURL = fmt.Sprintf("/groups/%d/members?%s", group.ID, query.Encode())
	}

	s.render(w, r, http.StatusOK, "members", page)
}

// attachPhotos fills PhotoURL from the profile photo cache, downloading
// misses. Download failures leave the member without an avatar.
func (s *Server) attachPhotos(ctx context.Context, members []tgview.Member) {
	var group errgroup.Group
	group.SetLimit(defaultAvatarWorkers)

	for index := range members {
		member := &members[index]
		if !member.HasPhoto {
			continue
		}
		if dataURL, known := s.photos.Get(member.UserID); known {
			member.PhotoURL = dataURL
			continue
		}

		group.Go(func() error {
			member.PhotoURL = s.fetchPhoto(ctx, member.UserID)
			return nil
		})
	}

	_ = group.Wait()
}

func (s *Server) fetchPhoto(ctx context.Context, userID int64) string {
	data, err := s.messenger.ProfilePhoto(ctx, userID)
	switch {
	case errors.Is(err, tgview.ErrNoMedia):
		s.photos.PutAbsent(userID)
		return ""
	case err != nil:
		s.cfg.logger.Warn("profile photo download failed", "user_id", userID, "error", err)
		return ""
	case len(data) == 0:
		s.photos.PutAbsent(userID)
		return ""
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	s.photos.Put(userID, dataURL)

	return dataURL
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	messageID, err := strconv.Atoi(r.PathValue("msg"))
	if err != nil || messageID <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: message id %q", tgview.ErrInvalidRequest, r.PathValue("msg")))
		return
	}
	kind := tgview.MediaKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind != "" {
		if err := kind.Validate(); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", tgview.ErrInvalidRequest, err))
			return
		}
	}

	key := cache.MediaKey{GroupID: group.ID, MessageID: messageID, Kind: kind}
	if kind != "" {
		data, meta, ok, err := s.media.Get(key)
		if err != nil {
			s.cfg.logger.Warn("media cache read failed", "key", key.Hash(), "error", err)
		}
		if ok {
			serveMedia(w, r, data, meta.MIMEType, meta.FileName, meta.StoredAt)
			return
		}
	}

	media, err := s.messenger.DownloadMedia(r.Context(), group, messageID)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("download media %d/%d: %w", group.ID, messageID, err))
		return
	}
	if kind == "" {
		key.Kind = media.Ref.Kind
	}

	meta := cache.MediaMeta{MIMEType: media.Ref.MIMEType, FileName: media.Ref.FileName}
	if err := s.media.Put(key, meta, media.Data); err != nil {
		s.cfg.logger.Warn("media cache write failed", "key", key.Hash(), "error", err)
	}

	serveMedia(w, r, media.Data, media.Ref.MIMEType, media.Ref.FileName, time.Now())
}

// serveMedia writes data with a sniffed content type. The stored MIME type
// wins when sniffing only yields a generic answer.
func serveMedia(w http.ResponseWriter, r *http.Request, data []byte, storedMIME string, fileName string, modTime time.Time) {
	w.Header().Set("Content-Type", mediaContentType(data, storedMIME))
	w.Header().Set("Cache-Control", mediaCacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if fileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": fileName}))
	}

	http.ServeContent(w, r, fileName, modTime, bytes.NewReader(data))
}

func mediaContentType(data []byte, storedMIME string) string {
	sniffed := http.DetectContentType(data)
	if sniffed != sniffFallbackMIME && sniffed != sniffTextPlainMIME {
		return sniffed
	}
	if storedMIME = strings.TrimSpace(storedMIME); storedMIME != "" {
		return storedMIME
	}

	return sniffed
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.media.List(r.Context())
	if err != nil {
		s.writeError(w, r, fmt.Errorf("list cached media: %w", err))
		return
	}

	files := make([]fileView, 0, len(entries))
	for _, entry := range entries {
		name := entry.FileName
		if name == "" {
			name = fmt.Sprintf("%s %d", entry.Kind, entry.Message)
		}
		files = append(files, fileView{
			GroupID:      entry.GroupID,
			Message:      entry.Message,
			Kind:         entry.Kind,
			Name:         name,
			DisplayClass: entry.Kind.DisplayClass(),
			Size:         entry.Size,
			StoredAt:     entry.StoredAt,
		})
	}

	s.render(w, r, http.StatusOK, "files", filesPage{Files: files})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxTextFormBytes)
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, formError(err))
		return
	}

	text := strings.TrimSpace(r.PostFormValue("message"))
	if text == "" {
		s.writeError(w, r, fmt.Errorf("%w: message is empty", tgview.ErrInvalidRequest))
		return
	}
	if _, err := s.messenger.SendText(r.Context(), group, text); err != nil {
		s.writeError(w, r, fmt.Errorf("send text to %d: %w", group.ID, err))
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/groups/%d", group.ID), http.StatusSeeOther)
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, r, formError(err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: missing file: %v", tgview.ErrInvalidRequest, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.maxUploadBytes+1))
	if err != nil {
		s.writeError(w, r, formError(err))
		return
	}
	if int64(len(data)) > s.cfg.maxUploadBytes {
		s.writeError(w, r, fmt.Errorf("upload %q: %w", header.Filename, tgview.ErrMediaTooLarge))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == sniffFallbackMIME {
		mimeType = http.DetectContentType(data)
	}
	upload := tgview.FileUpload{
		Name:     header.Filename,
		MIMEType: mimeType,
		Caption:  strings.TrimSpace(r.FormValue("caption")),
		Data:     data,
	}
	if _, err := s.messenger.SendFile(r.Context(), group, upload); err != nil {
		s.writeError(w, r, fmt.Errorf("send file to %d: %w", group.ID, err))
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/groups/%d", group.ID), http.StatusSeeOther)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.summarizer == nil {
		http.NotFound(w, r)
		return
	}
	group, err := s.groupFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxTextFormBytes)
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, formError(err))
		return
	}

	params := s.parseMessageParams(r.PostForm)
	messages, _, err := s.loadMessages(r.Context(), group, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(messages) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: nothing to summarize", tgview.ErrInvalidRequest))
		return
	}

	digest, err := s.cfg.summarizer.Summarize(r.Context(), group, messages)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("summarize %d: %w", group.ID, err))
		return
	}

	s.render(w, r, http.StatusOK, "digest", digestPage{
		Group:   group,
		Digest:  digest,
		Count:   len(messages),
		BackURL: messagesURL(group.ID, params.query, params.offset, params.limit),
	})
}

type messageParams struct {
	query  string
	offset string
	limit  int
}

// parseMessageParams reads q, offset and limit. The limit never exceeds
// tgview.MaxHistoryLimit.
func (s *Server) parseMessageParams(values url.Values) messageParams {
	return messageParams{
		query:  strings.TrimSpace(values.Get("q")),
		offset: strings.TrimSpace(values.Get("offset")),
		limit:  pagination.ClampLimit(values.Get("limit"), s.cfg.pageSize, min(s.cfg.maxPageSize, tgview.MaxHistoryLimit)),
	}
}

// loadMessages fetches one history page and its next-page token.
func (s *Server) loadMessages(ctx context.Context, group tgview.Group, params messageParams) ([]tgview.Message, string, error) {
	offsetID, err := pagination.DecodeMessageCursor(params.offset)
	if err != nil {
		return nil, "", err
	}

	messages, err := s.messenger.History(ctx, group, tgview.HistoryQuery{
		Query:    params.query,
		OffsetID: offsetID,
		Limit:    params.limit,
	})
	if err != nil {
		return nil, "", fmt.Errorf("load history of %d: %w", group.ID, err)
	}

	return messages, pagination.NextMessageToken(messages, params.limit), nil
}

func (s *Server) groupFromPath(r *http.Request) (tgview.Group, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return tgview.Group{}, fmt.Errorf("group %q: %w", raw, tgview.ErrGroupNotFound)
	}

	group, ok, err := s.groups.Lookup(r.Context(), id)
	if err != nil {
		return tgview.Group{}, fmt.Errorf("lookup group %d: %w", id, err)
	}
	if !ok {
		return tgview.Group{}, fmt.Errorf("group %d: %w", id, tgview.ErrGroupNotFound)
	}

	return group, nil
}

func newMessageView(message tgview.Message) messageView {
	view := messageView{Message: message}
	if message.Media != nil {
		view.DisplayClass = message.Media.Kind.DisplayClass()
		if message.Media.Downloadable {
			view.MediaURL = mediaURL(message.GroupID, message.ID, message.Media.Kind)
		}
	}

	return view
}

func mediaURL(groupID int64, messageID int, kind tgview.MediaKind) string {
	return fmt.Sprintf("/groups/%d/media/%d?kind=%s", groupID, messageID, url.QueryEscape(string(kind)))
}

func messagesURL(groupID int64, query string, offset string, limit int) string {
	values := url.Values{}
	if query != "" {
		values.Set("q", query)
	}
	if offset != "" {
		values.Set("offset", offset)
	}
	values.Set("limit", strconv.Itoa(limit))

	return fmt.Sprintf("/groups/%d?%s", groupID, values.Encode())
}

// formError classifies request body failures; oversized bodies map to 413.
func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("request body over %d bytes: %w", tooLarge.Limit, tgview.ErrMediaTooLarge)
	}

	return fmt.Errorf("%w: %v", tgview.ErrInvalidRequest, err)
}

// safeRedirect keeps post-login redirects on this host.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return defaultRedirectPath
	}

	return target
}
