package tgview

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind classifies message attachments for caching and rendering.
type MediaKind string

const (
	// MediaKindPhoto is a compressed photo.
	MediaKindPhoto MediaKind = "photo"
	// MediaKindVideo is a video document or round video message.
	MediaKindVideo MediaKind = "video"
	// MediaKindAudio is a music/audio document.
	MediaKindAudio MediaKind = "audio"
	// MediaKindVoice is a voice note.
	MediaKindVoice MediaKind = "voice"
	// MediaKindAnimation is a GIF-like animation.
	MediaKindAnimation MediaKind = "animation"
	// MediaKindSticker is a sticker document.
	MediaKindSticker MediaKind = "sticker"
	// MediaKindDocument is any other file.
	MediaKindDocument MediaKind = "document"
	// MediaKindOther covers non-file media such as polls, locations or web previews.
	MediaKindOther MediaKind = "other"
)

// Validate checks whether this kind value is supported.
func (k MediaKind) Validate() error {
	switch k {
	case MediaKindPhoto, MediaKindVideo, MediaKindAudio, MediaKindVoice,
		MediaKindAnimation, MediaKindSticker, MediaKindDocument, MediaKindOther:
		return nil
	default:
		return fmt.Errorf("validate media kind: unsupported kind %q", k)
	}
}

// DisplayClass maps a media kind onto the browser element used to render it:
// image, video, audio or file.
func (k MediaKind) DisplayClass() string {
	switch k {
	case MediaKindPhoto, MediaKindSticker:
		return "image"
	case MediaKindVideo, MediaKindAnimation:
		return "video"
	case MediaKindAudio, MediaKindVoice:
		return "audio"
	default:
		return "file"
	}
}

// MediaRef describes one attachment without its bytes.
type MediaRef struct {
	Kind         MediaKind
	MIMEType     string
	FileName     string
	Size         int64
	Downloadable bool
}

// Message is one chat message projected for display.
type Message struct {
	ID         int
	GroupID    int64
	SenderID   int64
	SenderName string
	Text       string
	Date       time.Time
	Outgoing   bool
	ReplyToID  int
	Media      *MediaRef
}

// MaxHistoryLimit is the largest page Telegram returns for history and search.
const MaxHistoryLimit = 100

// HistoryQuery selects one page of messages, newest first.
type HistoryQuery struct {
	// Query switches the page to a server-side text search when non-empty.
	Query string
	// OffsetID returns messages strictly older than this id. Zero starts at the newest.
	OffsetID int
	// Limit bounds the page size.
	Limit int
}

// Validate checks one history query contract.
func (q HistoryQuery) Validate() error {
	if q.OffsetID < 0 {
		return fmt.Errorf("%w: offset id must be >= 0", ErrInvalidRequest)
	}
	if q.Limit <= 0 || q.Limit > MaxHistoryLimit {
		return fmt.Errorf("%w: limit must be in 1..%d", ErrInvalidRequest, MaxHistoryLimit)
	}

	return nil
}

// Searching reports whether the query is a text search.
func (q HistoryQuery) Searching() bool {
	return strings.TrimSpace(q.Query) != ""
}

// Media is one downloaded attachment.
type Media struct {
	Ref  MediaRef
	Data []byte
}

// FileUpload is one file forwarded from the browser to a group.
type FileUpload struct {
	Name     string
	MIMEType string
	Caption  string
	Data     []byte
}

// Validate checks one upload contract.
func (u FileUpload) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: missing file name", ErrInvalidRequest)
	}
	if len(u.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidRequest)
	}

	return nil
}
