package telegram

import (
	"encoding/base64"
	"fmt"
	"sync"

	"tgview/pkg/tgview"

	"rsc.io/qr"
)

// loginTracker publishes session authorization progress to readers.
type loginTracker struct {
	mu     sync.RWMutex
	status tgview.LoginStatus
}

func newLoginTracker() *loginTracker {
	return &loginTracker{
		status: tgview.LoginStatus{State: tgview.LoginStateConnecting},
	}
}

func (t *loginTracker) Status() tgview.LoginStatus {
	if t == nil {
		return tgview.LoginStatus{State: tgview.LoginStateConnecting}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

func (t *loginTracker) Ready() bool {
	return t.Status().State == tgview.LoginStateReady
}

func (t *loginTracker) set(status tgview.LoginStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
}

func (t *loginTracker) awaitingCode() {
	t.set(tgview.LoginStatus{State: tgview.LoginStateAwaitingCode})
}

func (t *loginTracker) awaitingQR(url string, dataURL string) {
	t.set(tgview.LoginStatus{
		State:     tgview.LoginStateAwaitingQR,
		QRURL:     url,
		QRDataURL: dataURL,
	})
}

func (t *loginTracker) ready(user string) {
	t.set(tgview.LoginStatus{
		State: tgview.LoginStateReady,
		User:  user,
	})
}

func (t *loginTracker) fail(err error) {
	status := tgview.LoginStatus{State: tgview.LoginStateFailed}
	if err != nil {
		status.Error = err.Error()
	}
	t.set(status)
}

// qrDataURL renders a login URL as a PNG data URL.
func qrDataURL(loginURL string) (string, error) {
	code, err := qr.Encode(loginURL, qr.M)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(code.PNG()), nil
}
