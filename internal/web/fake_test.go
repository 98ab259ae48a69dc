package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tgview/internal/cache"
	"tgview/pkg/tgview"
)

var (
	testGroup = tgview.Group{ID: -1_000_000_000_042, Name: "Gophers", Kind: tgview.GroupKindSupergroup}
	testChat  = tgview.Group{ID: -77, Name: "Family", Kind: tgview.GroupKindGroup}
)

// pngBytes is a minimal PNG header that http.DetectContentType recognizes.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeMessenger struct {
	mu sync.Mutex

	status     tgview.LoginStatus
	account    tgview.Account
	accountErr error
	selfCalls  int
	groups     []tgview.Group
	groupsErr  error
	history    func(tgview.HistoryQuery) ([]tgview.Message, error)
	members    func(tgview.MemberQuery) (tgview.MemberPage, error)
	media      map[int]tgview.Media
	mediaErr   error
	photos     map[int64][]byte
	photoErr   map[int64]error
	sendErr    error
	listCalls  int
	historyQs  []tgview.HistoryQuery
	memberQs   []tgview.MemberQuery
	downloads  int
	photoCalls map[int64]int
	sentTexts  []string
	sentFiles  []tgview.FileUpload
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		status:     tgview.LoginStatus{State: tgview.LoginStateReady, User: "Ada"},
		account:    tgview.Account{ID: 7, Name: "Ada", Username: "ada"},
		groups:     []tgview.Group{testGroup, testChat},
		media:      make(map[int]tgview.Media),
		photos:     make(map[int64][]byte),
		photoErr:   make(map[int64]error),
		photoCalls: make(map[int64]int),
	}
}

func (f *fakeMessenger) Status() tgview.LoginStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status
}

func (f *fakeMessenger) Self(context.Context) (tgview.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.selfCalls++
	if f.accountErr != nil {
		return tgview.Account{}, f.accountErr
	}

	return f.account, nil
}

func (f *fakeMessenger) ListGroups(context.Context) ([]tgview.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}

	return append([]tgview.Group(nil), f.groups...), nil
}

func (f *fakeMessenger) History(_ context.Context, group tgview.Group, query tgview.HistoryQuery) ([]tgview.Message, error) {
	f.mu.Lock()
	f.historyQs = append(f.historyQs, query)
	history := f.history
	f.mu.Unlock()

	if history == nil {
		return nil, nil
	}
	messages, err := history(query)
	for index := range messages {
		messages[index].GroupID = group.ID
	}

	return messages, err
}

func (f *fakeMessenger) Members(_ context.Context, _ tgview.Group, query tgview.MemberQuery) (tgview.MemberPage, error) {
	f.mu.Lock()
	f.memberQs = append(f.memberQs, query)
	members := f.members
	f.mu.Unlock()

	if members == nil {
		return tgview.MemberPage{}, nil
	}

	return members(query)
}

func (f *fakeMessenger) DownloadMedia(_ context.Context, _ tgview.Group, messageID int) (tgview.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloads++
	if f.mediaErr != nil {
		return tgview.Media{}, f.mediaErr
	}
	media, ok := f.media[messageID]
	if !ok {
		return tgview.Media{}, tgview.ErrNoMedia
	}

	return media, nil
}

func (f *fakeMessenger) ProfilePhoto(_ context.Context, userID int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.photoCalls[userID]++
	if err := f.photoErr[userID]; err != nil {
		return nil, err
	}
	data, ok := f.photos[userID]
	if !ok {
		return nil, tgview.ErrNoMedia
	}

	return data, nil
}

func (f *fakeMessenger) SendText(_ context.Context, _ tgview.Group, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sentTexts = append(f.sentTexts, text)

	return 100 + len(f.sentTexts), nil
}

func (f *fakeMessenger) SendFile(_ context.Context, _ tgview.Group, upload tgview.FileUpload) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sentFiles = append(f.sentFiles, upload)

	return 200 + len(f.sentFiles), nil
}

type fakeSummarizer struct {
	digest   string
	err      error
	received []tgview.Message
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ tgview.Group, messages []tgview.Message) (string, error) {
	f.received = append([]tgview.Message(nil), messages...)
	if f.err != nil {
		return "", f.err
	}

	return f.digest, nil
}

type testHarness struct {
	server    *Server
	messenger *fakeMessenger
	media     *cache.MediaCache
	photos    *cache.PhotoCache
}

func newTestHarness(t *testing.T, messenger *fakeMessenger, options ...Option) testHarness {
	t.Helper()

	media, err := cache.NewMediaCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewMediaCache failed: %v", err)
	}
	photos := cache.NewPhotoCache()
	groups := cache.NewGroupCache(messenger.ListGroups)

	options = append([]Option{WithLogger(discardLogger()), WithPageSize(3, 10)}, options...)
	server, err := NewServer(messenger, groups, media, photos, options...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	return testHarness{server: server, messenger: messenger, media: media, photos: photos}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessages(ids ...int) []tgview.Message {
	messages := make([]tgview.Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, tgview.Message{
			ID:         id,
			SenderID:   7,
			SenderName: "Ada",
			Text:       fmt.Sprintf("message %d", id),
			Date:       time.Date(2026, 3, 1, 12, 0, id%60, 0, time.UTC),
		})
	}

	return messages
}
