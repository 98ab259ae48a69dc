package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"tgview/internal/cache"
	"tgview/internal/pagination"
	"tgview/pkg/tgview"
)

func serve(t *testing.T, handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	return recorder
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	return serve(t, handler, httptest.NewRequest(http.MethodGet, target, nil))
}

func postForm(t *testing.T, handler http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return serve(t, handler, request)
}

func document(t *testing.T, recorder *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(recorder.Body.Bytes()))
	if err != nil {
		t.Fatalf("parse html failed: %v", err)
	}

	return doc
}

func groupPath(group tgview.Group, suffix string) string {
	return fmt.Sprintf("/groups/%d%s", group.ID, suffix)
}

func TestRootRedirectsToGroups(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, newFakeMessenger())
	recorder := get(t, harness.server.Handler(), "/")
	if recorder.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusFound)
	}
	if location := recorder.Header().Get("Location"); location != "/groups" {
		t.Fatalf("location = %q, want /groups", location)
	}
}

func TestGroupsPageListsGroupsOnce(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	harness := newTestHarness(t, messenger)
	handler := harness.server.Handler()

	for range 2 {
		recorder := get(t, handler, "/groups")
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
		}

		doc := document(t, recorder)
		var got []string
		doc.Find("li.group a").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			got = append(got, link.Text()+" "+href)
		})
		want := []string{"Gophers /groups/-1000000000042", "Family /groups/-77"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("groups mismatch (-want +got):\n%s", diff)
		}
	}

	if messenger.listCalls != 1 {
		t.Fatalf("ListGroups calls = %d, want 1", messenger.listCalls)
	}
}

func TestMessagesPagePaginates(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(query tgview.HistoryQuery) ([]tgview.Message, error) {
		if query.OffsetID == 0 {
			return testMessages(30, 29, 28), nil
		}
		return testMessages(27), nil
	}
	harness := newTestHarness(t, messenger)
	handler := harness.server.Handler()

	recorder := get(t, handler, groupPath(testGroup, ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	doc := document(t, recorder)
	if count := doc.Find("article.message").Length(); count != 3 {
		t.Fatalf("messages = %d, want 3", count)
	}
	next, ok := doc.Find("#next").Attr("href")
	if !ok {
		t.Fatal("expected next page link")
	}
	wantNext := groupPath(testGroup, "?limit=3&offset="+pagination.EncodeMessageCursor(28))
	if next != wantNext {
		t.Fatalf("next = %q, want %q", next, wantNext)
	}

	recorder = get(t, handler, next)
	doc = document(t, recorder)
	if count := doc.Find("article.message").Length(); count != 1 {
		t.Fatalf("second page messages = %d, want 1", count)
	}
	if doc.Find("#next").Length() != 0 {
		t.Fatal("short page must not link to a next page")
	}

	want := []tgview.HistoryQuery{{Limit: 3}, {OffsetID: 28, Limit: 3}}
	if diff := cmp.Diff(want, messenger.historyQs); diff != "" {
		t.Fatalf("history queries mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagesPageSearchAndLimit(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(tgview.HistoryQuery) ([]tgview.Message, error) {
		return testMessages(9), nil
	}
	harness := newTestHarness(t, messenger)

	recorder := get(t, harness.server.Handler(), groupPath(testGroup, "?q=+hello+&limit=50"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	want := []tgview.HistoryQuery{{Query: "hello", Limit: 10}}
	if diff := cmp.Diff(want, messenger.historyQs); diff != "" {
		t.Fatalf("history queries mismatch (-want +got):\n%s", diff)
	}
	if value, _ := document(t, recorder).Find(`#search input[name="q"]`).Attr("value"); value != "hello" {
		t.Fatalf("search box = %q, want hello", value)
	}
}

func TestMessagesPageCapsLimitAtTelegramPage(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(query tgview.HistoryQuery) ([]tgview.Message, error) {
		ids := make([]int, 0, tgview.MaxHistoryLimit)
		for id := 10_000; id > 10_000-min(query.Limit, tgview.MaxHistoryLimit); id-- {
			ids = append(ids, id)
		}
		return testMessages(ids...), nil
	}
	harness := newTestHarness(t, messenger, WithPageSize(50, 200))

	recorder := get(t, harness.server.Handler(), groupPath(testGroup, "?limit=150"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if got := messenger.historyQs[0].Limit; got != tgview.MaxHistoryLimit {
		t.Fatalf("history limit = %d, want %d", got, tgview.MaxHistoryLimit)
	}
	next, ok := document(t, recorder).Find("#next").Attr("href")
	if !ok {
		t.Fatal("full page must link to older messages")
	}
	wantNext := groupPath(testGroup, "?limit=100&offset="+pagination.EncodeMessageCursor(9_901))
	if next != wantNext {
		t.Fatalf("next = %q, want %q", next, wantNext)
	}
}

func TestMessagesPageRendersMedia(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(tgview.HistoryQuery) ([]tgview.Message, error) {
		messages := testMessages(5, 4, 3)
		messages[0].Media = &tgview.MediaRef{Kind: tgview.MediaKindPhoto, MIMEType: "image/jpeg", Downloadable: true}
		messages[1].Media = &tgview.MediaRef{Kind: tgview.MediaKindDocument, FileName: "report.pdf", Size: 2048, Downloadable: true}
		messages[2].Media = &tgview.MediaRef{Kind: tgview.MediaKindOther}
		return messages, nil
	}
	harness := newTestHarness(t, messenger)

	doc := document(t, get(t, harness.server.Handler(), groupPath(testGroup, "")))

	src, _ := doc.Find("#m5 .media img").Attr("src")
	if want := groupPath(testGroup, "/media/5?kind=photo"); src != want {
		t.Fatalf("photo src = %q, want %q", src, want)
	}
	link := doc.Find("#m4 .media a")
	if link.Text() != "report.pdf" {
		t.Fatalf("document link text = %q, want report.pdf", link.Text())
	}
	if size := doc.Find("#m4 .media .meta").Text(); size != "2.0 KiB" {
		t.Fatalf("document size = %q, want 2.0 KiB", size)
	}
	if placeholder := doc.Find("#m3 .media .meta").Text(); placeholder != "[other]" {
		t.Fatalf("placeholder = %q, want [other]", placeholder)
	}
	if doc.Find("#digest-form").Length() != 0 {
		t.Fatal("digest form rendered without a summarizer")
	}
}

func TestMessagesPageErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		target     string
		groupsErr  error
		historyErr error
		wantStatus int
		wantRetry  string
		wantLogin  bool
	}{
		{
			name:       "unknown group",
			target:     "/groups/123",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "non numeric group",
			target:     "/groups/abc",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed cursor",
			target:     groupPath(testGroup, "?offset=!!"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "session not ready",
			target:     groupPath(testGroup, ""),
			groupsErr:  fmt.Errorf("list groups: %w", tgview.ErrNotReady),
			wantStatus: http.StatusServiceUnavailable,
			wantLogin:  true,
		},
		{
			name:   "flood wait",
			target: groupPath(testGroup, ""),
			historyErr: &tgview.Error{
				Operation:  tgview.OperationHistory,
				Kind:       tgview.ErrorKindRateLimited,
				RetryAfter: 1500 * time.Millisecond,
			},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "2",
		},
		{
			name:       "forbidden",
			target:     groupPath(testGroup, ""),
			historyErr: &tgview.Error{Operation: tgview.OperationHistory, Kind: tgview.ErrorKindForbidden},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unexpected failure",
			target:     groupPath(testGroup, ""),
			historyErr: errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			messenger := newFakeMessenger()
			messenger.groupsErr = testCase.groupsErr
			messenger.history = func(tgview.HistoryQuery) ([]tgview.Message, error) {
				return nil, testCase.historyErr
			}
			harness := newTestHarness(t, messenger)

			recorder := get(t, harness.server.Handler(), testCase.target)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if retry := recorder.Header().Get("Retry-After"); retry != testCase.wantRetry {
				t.Fatalf("Retry-After = %q, want %q", retry, testCase.wantRetry)
			}
			doc := document(t, recorder)
			if got := doc.Find(`a[href="/login"]`).Length() > 1; got != testCase.wantLogin {
				t.Fatalf("login link rendered = %v, want %v", got, testCase.wantLogin)
			}
			if strings.Contains(recorder.Body.String(), "boom") {
				t.Fatal("internal error text leaked into the page")
			}
		})
	}
}

func TestMessagesAPI(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(tgview.HistoryQuery) ([]tgview.Message, error) {
		messages := testMessages(12, 11, 10)
		messages[0].Media = &tgview.MediaRef{Kind: tgview.MediaKindVoice, MIMEType: "audio/ogg", Downloadable: true}
		return messages, nil
	}
	harness := newTestHarness(t, messenger)

	recorder := get(t, harness.server.Handler(), "/api"+groupPath(testGroup, "/messages"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if contentType := recorder.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "application/json") {
		t.Fatalf("content type = %q, want json", contentType)
	}

	var page apiMessagePage
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode json failed: %v", err)
	}
	if page.NextOffset != pagination.EncodeMessageCursor(10) {
		t.Fatalf("next_offset = %q, want cursor for 10", page.NextOffset)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(page.Messages))
	}
	wantMedia := &apiMedia{
		Kind:         tgview.MediaKindVoice,
		MIMEType:     "audio/ogg",
		URL:          groupPath(testGroup, "/media/12?kind=voice"),
		DisplayClass: "audio",
	}
	if diff := cmp.Diff(wantMedia, page.Messages[0].Media); diff != "" {
		t.Fatalf("media mismatch (-want +got):\n%s", diff)
	}
	if page.Messages[0].GroupID != testGroup.ID {
		t.Fatalf("group id = %d, want %d", page.Messages[0].GroupID, testGroup.ID)
	}
}

func TestMessagesAPIErrorsAreJSON(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, newFakeMessenger())
	recorder := get(t, harness.server.Handler(), "/api/groups/5/messages")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}

	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode json failed: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected error message")
	}
}

func membersFixture() []tgview.Member {
	return []tgview.Member{
		{UserID: 1, Name: "Ada", Username: "ada", Role: tgview.MemberRoleCreator, HasPhoto: true},
		{UserID: 2, Name: "Grace", HasPhoto: true, Role: tgview.MemberRoleMember},
		{UserID: 3, Name: "Linus", HasPhoto: true, Role: tgview.MemberRoleAdmin},
		{UserID: 4, Name: "Ken", Bot: true, Role: tgview.MemberRoleMember},
		{UserID: 5, Name: "Rob", Role: tgview.MemberRoleMember},
	}
}

func pageOf(members []tgview.Member, query tgview.MemberQuery) tgview.MemberPage {
	if query.Offset >= len(members) {
		return tgview.MemberPage{}
	}
	end := min(query.Offset+query.Limit, len(members))

	return tgview.MemberPage{
		Members: append([]tgview.Member(nil), members[query.Offset:end]...),
		Scanned: end - query.Offset,
	}
}

func TestMembersPageLoadsAvatars(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	all := membersFixture()
	messenger.members = func(query tgview.MemberQuery) (tgview.MemberPage, error) {
		return pageOf(all, query), nil
	}
	messenger.photos[1] = pngBytes
	messenger.photoErr[3] = errors.New("connection reset")
	harness := newTestHarness(t, messenger)
	handler := harness.server.Handler()

	for range 2 {
		recorder := get(t, handler, groupPath(testGroup, "/members"))
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
		}
		doc := document(t, recorder)

		src, _ := doc.Find(`li[data-id="1"] img.avatar`).Attr("src")
		if !strings.HasPrefix(src, "data:image/png;base64,") {
			t.Fatalf("avatar src = %q, want png data url", src)
		}
		if doc.Find(`li[data-id="2"] span.avatar.none`).Length() != 1 {
			t.Fatal("member without photo should render the placeholder")
		}
		if doc.Find(`li[data-id="3"] span.avatar.none`).Length() != 1 {
			t.Fatal("failed avatar download should render the placeholder")
		}
		if role := doc.Find(`li[data-id="1"] .role`).Text(); role != "creator" {
			t.Fatalf("role = %q, want creator", role)
		}
	}

	if _, known := harness.photos.Get(2); !known {
		t.Fatal("missing photo should be remembered as absent")
	}
	if _, known := harness.photos.Get(3); known {
		t.Fatal("failed download must not be cached")
	}
	wantCalls := map[int64]int{1: 1, 2: 1, 3: 2}
	if diff := cmp.Diff(wantCalls, messenger.photoCalls); diff != "" {
		t.Fatalf("photo calls mismatch (-want +got):\n%s", diff)
	}
}

func TestMembersPagePaginates(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	all := membersFixture()
	messenger.members = func(query tgview.MemberQuery) (tgview.MemberPage, error) {
		return pageOf(all, query), nil
	}
	harness := newTestHarness(t, messenger)
	handler := harness.server.Handler()

	doc := document(t, get(t, handler, groupPath(testGroup, "/members")))
	next, ok := doc.Find("#next").Attr("href")
	if !ok {
		t.Fatal("expected next page link")
	}
	wantNext := groupPath(testGroup, "/members?limit=3&offset="+pagination.EncodeMemberCursor(3, 3))
	if next != wantNext {
		t.Fatalf("next = %q, want %q", next, wantNext)
	}

	doc = document(t, get(t, handler, next))
	var names []string
	doc.Find("li.member .name").Each(func(_ int, name *goquery.Selection) {
		names = append(names, name.Text())
	})
	if diff := cmp.Diff([]string{"Ken", "Rob"}, names); diff != "" {
		t.Fatalf("second page mismatch (-want +got):\n%s", diff)
	}
	if doc.Find("#next").Length() != 0 {
		t.Fatal("short page must not link to a next page")
	}
	if got := messenger.memberQs[1].Offset; got != 3 {
		t.Fatalf("second query offset = %d, want 3", got)
	}
}

func TestMembersPageSkipsShiftedMembers(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	all := append([]tgview.Member{{UserID: 9, Name: "Newcomer"}}, membersFixture()...)
	messenger.members = func(query tgview.MemberQuery) (tgview.MemberPage, error) {
		return pageOf(all, query), nil
	}
	harness := newTestHarness(t, messenger)

	target := groupPath(testGroup, "/members?offset="+pagination.EncodeMemberCursor(3, 3))
	doc := document(t, get(t, harness.server.Handler(), target))

	var ids []string
	doc.Find("li.member").Each(func(_ int, member *goquery.Selection) {
		id, _ := member.Attr("data-id")
		ids = append(ids, id)
	})
	if diff := cmp.Diff([]string{"4", "5"}, ids); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestMembersPageContinuesPastDroppedParticipants(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	all := membersFixture()
	messenger.members = func(query tgview.MemberQuery) (tgview.MemberPage, error) {
		page := pageOf(all, query)
		if query.Offset == 0 {
			// The second slot is a participant who left the group.
			page.Members = append(page.Members[:1], page.Members[2:]...)
		}
		return page, nil
	}
	harness := newTestHarness(t, messenger)
	handler := harness.server.Handler()

	doc := document(t, get(t, handler, groupPath(testGroup, "/members")))
	if got := doc.Find("li.member").Length(); got != 2 {
		t.Fatalf("members rendered = %d, want 2", got)
	}
	next, ok := doc.Find("#next").Attr("href")
	if !ok {
		t.Fatal("full upstream page must link to the next page")
	}
	wantNext := groupPath(testGroup, "/members?limit=3&offset="+pagination.EncodeMemberCursor(3, 3))
	if next != wantNext {
		t.Fatalf("next = %q, want %q", next, wantNext)
	}

	doc = document(t, get(t, handler, next))
	var ids []string
	doc.Find("li.member").Each(func(_ int, member *goquery.Selection) {
		id, _ := member.Attr("data-id")
		ids = append(ids, id)
	})
	if diff := cmp.Diff([]string{"4", "5"}, ids); diff != "" {
		t.Fatalf("second page mismatch (-want +got):\n%s", diff)
	}
}

func TestMediaIsCachedAfterDownload(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.media[5] = tgview.Media{
		Ref:  tgview.MediaRef{Kind: tgview.MediaKindPhoto, MIMEType: "image/jpeg", FileName: "cat.png", Downloadable: true},
		Data: pngBytes,
	}
	harness := newTestHarness(t, messenger)
	handler := harness.server.Handler()

	for range 2 {
		recorder := get(t, handler, groupPath(testGroup, "/media/5?kind=photo"))
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
		}
		if contentType := recorder.Header().Get("Content-Type"); contentType != "image/png" {
			t.Fatalf("content type = %q, want image/png", contentType)
		}
		if !bytes.Equal(recorder.Body.Bytes(), pngBytes) {
			t.Fatal("body does not match media bytes")
		}
	}

	if messenger.downloads != 1 {
		t.Fatalf("downloads = %d, want 1", messenger.downloads)
	}
	_, meta, ok, err := harness.media.Get(cache.MediaKey{GroupID: testGroup.ID, MessageID: 5, Kind: tgview.MediaKindPhoto})
	if err != nil || !ok {
		t.Fatalf("cache get = %v, %v, want hit", ok, err)
	}
	if meta.FileName != "cat.png" {
		t.Fatalf("cached file name = %q, want cat.png", meta.FileName)
	}
}

func TestMediaWithoutKindCachesUnderDownloadedKind(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.media[8] = tgview.Media{
		Ref:  tgview.MediaRef{Kind: tgview.MediaKindVoice, MIMEType: "audio/ogg", Downloadable: true},
		Data: []byte{0x00, 0x01, 0x02, 0x03},
	}
	harness := newTestHarness(t, messenger)

	recorder := get(t, harness.server.Handler(), groupPath(testGroup, "/media/8"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "audio/ogg" {
		t.Fatalf("content type = %q, want audio/ogg", contentType)
	}
	if _, _, ok, _ := harness.media.Get(cache.MediaKey{GroupID: testGroup.ID, MessageID: 8, Kind: tgview.MediaKindVoice}); !ok {
		t.Fatal("expected media cached under the downloaded kind")
	}
}

func TestMediaErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		target     string
		mediaErr   error
		wantStatus int
	}{
		{name: "no media", target: groupPath(testGroup, "/media/4?kind=photo"), wantStatus: http.StatusNotFound},
		{name: "bad kind", target: groupPath(testGroup, "/media/4?kind=bogus"), wantStatus: http.StatusBadRequest},
		{name: "bad message id", target: groupPath(testGroup, "/media/abc"), wantStatus: http.StatusBadRequest},
		{
			name:       "too large",
			target:     groupPath(testGroup, "/media/4?kind=video"),
			mediaErr:   fmt.Errorf("download: %w", tgview.ErrMediaTooLarge),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			messenger := newFakeMessenger()
			messenger.mediaErr = testCase.mediaErr
			harness := newTestHarness(t, messenger)

			recorder := get(t, harness.server.Handler(), testCase.target)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
		})
	}
}

func TestMediaContentType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		data       []byte
		storedMIME string
		want       string
	}{
		{name: "sniffed wins", data: pngBytes, storedMIME: "image/jpeg", want: "image/png"},
		{name: "stored for binary", data: []byte{0x00, 0x01}, storedMIME: "video/mp4", want: "video/mp4"},
		{name: "stored for text", data: []byte("# notes"), storedMIME: "text/markdown", want: "text/markdown"},
		{name: "generic fallback", data: []byte{0x00, 0x01}, want: "application/octet-stream"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := mediaContentType(testCase.data, testCase.storedMIME); got != testCase.want {
				t.Fatalf("mediaContentType() = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestFilesPageListsCachedMedia(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, newFakeMessenger())
	entries := []struct {
		key  cache.MediaKey
		meta cache.MediaMeta
	}{
		{
			key:  cache.MediaKey{GroupID: testGroup.ID, MessageID: 1, Kind: tgview.MediaKindPhoto},
			meta: cache.MediaMeta{GroupID: testGroup.ID, Message: 1, Kind: tgview.MediaKindPhoto, FileName: "sunset.jpg"},
		},
		{
			key:  cache.MediaKey{GroupID: testChat.ID, MessageID: 2, Kind: tgview.MediaKindDocument},
			meta: cache.MediaMeta{GroupID: testChat.ID, Message: 2, Kind: tgview.MediaKindDocument},
		},
	}
	for _, entry := range entries {
		if err := harness.media.Put(entry.key, entry.meta, []byte("data")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	doc := document(t, get(t, harness.server.Handler(), "/files"))
	got := make(map[string]string)
	doc.Find("tr.file").Each(func(_ int, row *goquery.Selection) {
		class, _ := row.Attr("data-class")
		got[row.Find("a").Text()] = class
	})
	want := map[string]string{"sunset.jpg": "image", "document 2": "file"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		message      string
		sendErr      error
		wantStatus   int
		wantLocation string
		wantSent     []string
	}{
		{
			name:         "sent",
			message:      "  hello there ",
			wantStatus:   http.StatusSeeOther,
			wantLocation: groupPath(testGroup, ""),
			wantSent:     []string{"hello there"},
		},
		{
			name:       "empty",
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not ready",
			message:    "hi",
			sendErr:    fmt.Errorf("send text: %w", tgview.ErrNotReady),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			messenger := newFakeMessenger()
			messenger.sendErr = testCase.sendErr
			harness := newTestHarness(t, messenger)

			recorder := postForm(t, harness.server.Handler(), groupPath(testGroup, "/messages"), url.Values{"message": {testCase.message}})
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if location := recorder.Header().Get("Location"); location != testCase.wantLocation {
				t.Fatalf("location = %q, want %q", location, testCase.wantLocation)
			}
			if diff := cmp.Diff(testCase.wantSent, messenger.sentTexts); diff != "" {
				t.Fatalf("sent texts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func multipartUpload(t *testing.T, target string, fileName string, content []byte, caption string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part failed: %v", err)
		}
	}
	if err := writer.WriteField("caption", caption); err != nil {
		t.Fatalf("WriteField failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart failed: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, target, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())

	return request
}

func TestSendFileForwardsUpload(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	harness := newTestHarness(t, messenger)

	request := multipartUpload(t, groupPath(testChat, "/files"), "notes.txt", []byte("hello notes"), " weekly ")
	recorder := serve(t, harness.server.Handler(), request)
	if recorder.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusSeeOther)
	}

	want := []tgview.FileUpload{{
		Name:     "notes.txt",
		MIMEType: "text/plain; charset=utf-8",
		Caption:  "weekly",
		Data:     []byte("hello notes"),
	}}
	if diff := cmp.Diff(want, messenger.sentFiles); diff != "" {
		t.Fatalf("uploads mismatch (-want +got):\n%s", diff)
	}
}

func TestSendFileRejectsInvalidUploads(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		fileName   string
		content    []byte
		wantStatus int
	}{
		{name: "too large", fileName: "big.bin", content: bytes.Repeat([]byte{1}, 16), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "missing file", wantStatus: http.StatusBadRequest},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			messenger := newFakeMessenger()
			harness := newTestHarness(t, messenger, WithMaxUploadBytes(8))

			request := multipartUpload(t, groupPath(testGroup, "/files"), testCase.fileName, testCase.content, "")
			recorder := serve(t, harness.server.Handler(), request)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if len(messenger.sentFiles) != 0 {
				t.Fatalf("sent files = %d, want 0", len(messenger.sentFiles))
			}
		})
	}
}

func TestDigestSummarizesCurrentPage(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(query tgview.HistoryQuery) ([]tgview.Message, error) {
		if query.OffsetID != 40 {
			return nil, fmt.Errorf("offset = %d, want 40", query.OffsetID)
		}
		return testMessages(39, 38), nil
	}
	summarizer := &fakeSummarizer{digest: "Two short updates."}
	harness := newTestHarness(t, messenger, WithSummarizer(summarizer))
	handler := harness.server.Handler()

	form := url.Values{"offset": {pagination.EncodeMessageCursor(40)}, "limit": {"3"}}
	recorder := postForm(t, handler, groupPath(testGroup, "/digest"), form)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	doc := document(t, recorder)
	if digest := doc.Find("#digest").Text(); digest != "Two short updates." {
		t.Fatalf("digest = %q, want summary", digest)
	}
	if len(summarizer.received) != 2 {
		t.Fatalf("summarized messages = %d, want 2", len(summarizer.received))
	}

	messenger.history = func(tgview.HistoryQuery) ([]tgview.Message, error) {
		return testMessages(3), nil
	}
	doc = document(t, get(t, handler, groupPath(testGroup, "")))
	if doc.Find("#digest-form").Length() != 1 {
		t.Fatal("expected digest form when a summarizer is configured")
	}
}

func TestDigestUnavailable(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, newFakeMessenger())
	recorder := postForm(t, harness.server.Handler(), groupPath(testGroup, "/digest"), url.Values{})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestDigestFailure(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.history = func(tgview.HistoryQuery) ([]tgview.Message, error) {
		return testMessages(3), nil
	}
	harness := newTestHarness(t, messenger, WithSummarizer(&fakeSummarizer{err: errors.New("provider down")}))

	recorder := postForm(t, harness.server.Handler(), groupPath(testGroup, "/digest"), url.Values{})
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
}

func TestLoginPageShowsQRCode(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.status = tgview.LoginStatus{
		State:     tgview.LoginStateAwaitingQR,
		QRDataURL: "data:image/png;base64,AAAA",
		QRURL:     "tg://login?token=abc",
	}
	harness := newTestHarness(t, messenger)

	doc := document(t, get(t, harness.server.Handler(), "/login"))
	if state, _ := doc.Find("#state").Attr("data-state"); state != "awaiting_qr" {
		t.Fatalf("state = %q, want awaiting_qr", state)
	}
	if src, _ := doc.Find("#qr").Attr("src"); src != "data:image/png;base64,AAAA" {
		t.Fatalf("qr src = %q, want data url", src)
	}
}

func TestLoginPageShowsFailure(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.status = tgview.LoginStatus{State: tgview.LoginStateFailed, Error: "PHONE_CODE_INVALID"}
	harness := newTestHarness(t, messenger)

	doc := document(t, get(t, harness.server.Handler(), "/login"))
	if text := doc.Find("main .error").Text(); text != "PHONE_CODE_INVALID" {
		t.Fatalf("error = %q, want PHONE_CODE_INVALID", text)
	}
	if doc.Find("#qr").Length() != 0 {
		t.Fatal("qr code rendered without a pending token")
	}
}

func TestLoginPageShowsAccount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       tgview.LoginState
		accountErr  error
		wantAccount bool
		wantCalls   int
	}{
		{name: "ready", state: tgview.LoginStateReady, wantAccount: true, wantCalls: 1},
		{name: "lookup fails", state: tgview.LoginStateReady, accountErr: errors.New("timeout"), wantCalls: 1},
		{name: "not signed in", state: tgview.LoginStateAwaitingCode},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			messenger := newFakeMessenger()
			messenger.status = tgview.LoginStatus{State: testCase.state, User: "Ada"}
			messenger.accountErr = testCase.accountErr
			harness := newTestHarness(t, messenger)

			recorder := get(t, harness.server.Handler(), "/login")
			if recorder.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
			}
			doc := document(t, recorder)
			if got := doc.Find("#account").Length() == 1; got != testCase.wantAccount {
				t.Fatalf("account rendered = %v, want %v", got, testCase.wantAccount)
			}
			if testCase.wantAccount {
				if username := doc.Find("#account .username").Text(); username != "@ada" {
					t.Fatalf("username = %q, want @ada", username)
				}
			}
			if messenger.selfCalls != testCase.wantCalls {
				t.Fatalf("Self calls = %d, want %d", messenger.selfCalls, testCase.wantCalls)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	messenger := newFakeMessenger()
	messenger.status = tgview.LoginStatus{State: tgview.LoginStateConnecting}
	harness := newTestHarness(t, messenger)

	recorder := get(t, harness.server.Handler(), "/healthz")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(recorder.Body)
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode json failed: %v", err)
	}
	want := map[string]string{"status": "ok", "telegram": "connecting"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("health mismatch (-want +got):\n%s", diff)
	}
}
