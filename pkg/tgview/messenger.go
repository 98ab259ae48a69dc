package tgview

import "context"

// Messenger is the Telegram surface the web front end depends on.
//
// Implementations must be concurrency-safe because HTTP handlers call them from
// many goroutines.
type Messenger interface {
	// Status reports the current session authorization state.
	Status() LoginStatus
	// Self returns the authorized account.
	Self(ctx context.Context) (Account, error)
	// ListGroups returns every group, supergroup and channel in dialog order.
	ListGroups(ctx context.Context) ([]Group, error)
	// History returns one page of messages, newest first.
	History(ctx context.Context, group Group, query HistoryQuery) ([]Message, error)
	// Members returns one page of participants.
	Members(ctx context.Context, group Group, query MemberQuery) (MemberPage, error)
	// DownloadMedia fetches the attachment of one message.
	DownloadMedia(ctx context.Context, group Group, messageID int) (Media, error)
	// ProfilePhoto fetches the small profile photo of one user.
	ProfilePhoto(ctx context.Context, userID int64) ([]byte, error)
	// SendText posts a plain text message and returns its id.
	SendText(ctx context.Context, group Group, text string) (int, error)
	// SendFile uploads a file and posts it as a document, returning the message id.
	SendFile(ctx context.Context, group Group, upload FileUpload) (int, error)
}

// Account is the Telegram user the session is authorized as.
type Account struct {
	ID       int64
	Name     string
	Username string
	Phone    string
}

// LoginState enumerates session authorization phases.
type LoginState string

const (
	// LoginStateConnecting means the client has not finished connecting.
	LoginStateConnecting LoginState = "connecting"
	// LoginStateAwaitingCode means a login code was requested and is pending.
	LoginStateAwaitingCode LoginState = "awaiting_code"
	// LoginStateAwaitingQR means a QR login token is waiting to be scanned.
	LoginStateAwaitingQR LoginState = "awaiting_qr"
	// LoginStateReady means the session is authorized and serving requests.
	LoginStateReady LoginState = "ready"
	// LoginStateFailed means authorization failed; see Error.
	LoginStateFailed LoginState = "failed"
)

// LoginStatus is a snapshot of session authorization state.
type LoginStatus struct {
	State LoginState
	// User is the display name of the authorized account.
	User string
	// QRDataURL is a PNG data URL of the pending QR login token.
	QRDataURL string
	// QRURL is the tg:// login URL encoded in the QR code.
	QRURL string
	// Error describes the last authorization failure.
	Error string
}
