package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"tgview/pkg/tgview"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"groups", "messages", "members", "files", "login", "session", "digest", "error"}

type pageSet struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"isoTime":   func(value time.Time) string { return value.UTC().Format(time.RFC3339) },
	"shortTime": func(value time.Time) string { return value.UTC().Format("2006-01-02 15:04") },
	"fileSize":  formatSize,
	"dataURL":   trustedDataURL,
	"tgURL":     trustedTelegramURL,
}

func parsePages() (*pageSet, error) {
	set := &pageSet{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		page, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		set.pages[name] = page
	}

	return set, nil
}

// render executes page name into a buffer first so template failures never
// leave a half-written response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	page, ok := s.pages.pages[name]
	if !ok {
		s.cfg.logger.Error("render unknown page", "page", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var body bytes.Buffer
	if err := page.ExecuteTemplate(&body, "layout", data); err != nil {
		s.cfg.logger.Error("render page",
			"request_id", requestIDFrom(r.Context()),
			"page", name,
			"error", err,
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = body.WriteTo(w)
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

// trustedDataURL passes image data URLs produced by this server through the
// template URL filter.
func trustedDataURL(value string) template.URL {
	if !strings.HasPrefix(value, "data:image/") {
		return ""
	}

	return template.URL(value)
}

func trustedTelegramURL(value string) template.URL {
	if !strings.HasPrefix(value, "tg://") {
		return ""
	}

	return template.URL(value)
}

type groupsPage struct {
	Groups []tgview.Group
}

type messageView struct {
	tgview.Message
	MediaURL     string
	DisplayClass string
}

type messagesPage struct {
	Group     tgview.Group
	Messages  []messageView
	Query     string
	Offset    string
	Limit     int
	NextURL   string
	CanDigest bool
}

type membersPage struct {
	Group   tgview.Group
	Members []tgview.Member
	Search  string
	NextURL string
}

type fileView struct {
	GroupID      int64
	Message      int
	Kind         tgview.MediaKind
	Name         string
	DisplayClass string
	Size         int64
	StoredAt     time.Time
}

type filesPage struct {
	Files []fileView
}

type loginPage struct {
	Status  tgview.LoginStatus
	Account *tgview.Account
}

type sessionPage struct {
	Next   string
	Failed bool
}

type digestPage struct {
	Group   tgview.Group
	Digest  string
	Count   int
	BackURL string
}

type errorPage struct {
	Status    int
	Title     string
	Message   string
	LoginLink bool
}
