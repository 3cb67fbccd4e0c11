package handler

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/ticketdesk/internal/model"
)

const atomNamespace = "http://www.w3.org/2005/Atom"

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	Title   string      `xml:"title"`
	ID      string      `xml:"id"`
	Updated string      `xml:"updated"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
}

type atomEntry struct {
	Title     string       `xml:"title"`
	ID        string       `xml:"id"`
	Links     []atomLink   `xml:"link"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Author    atomAuthor   `xml:"author"`
	Category  atomCategory `xml:"category"`
	Summary   atomText     `xml:"summary"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomText struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

// FeedHandler はチケット一覧をAtom 1.0フィードとして配信するハンドラー。
type FeedHandler struct {
	service TicketServiceInterface
	baseURL string
	now     func() time.Time
}

// NewFeedHandler はFeedHandlerを生成する。baseURLはエントリの絶対URL生成に使う。
func NewFeedHandler(service TicketServiceInterface, baseURL string) *FeedHandler {
	return &FeedHandler{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Atom はチケット一覧を一覧画面と同じ並び順でAtomフィードとして返す。認証不要。
// GET /feed.atom
func (h *FeedHandler) Atom(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.List(r.Context())
	if err != nil {
		slog.Error("failed to list tickets for feed", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	feed := h.buildFeed(tickets)

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		slog.Warn("failed to write atom feed", slog.String("error", err.Error()))
	}
}

func (h *FeedHandler) buildFeed(tickets []model.TicketWithAuthor) atomFeed {
	// 最新の作成日時をフィードの更新日時とする。チケットがない場合は現在時刻。
	updated := time.Time{}
	for i := range tickets {
		if tickets[i].Date.After(updated) {
			updated = tickets[i].Date
		}
	}
	if updated.IsZero() {
		updated = h.now()
	}

	feed := atomFeed{
		Xmlns:   atomNamespace,
		Title:   "Tickets",
		ID:      h.baseURL + "/",
		Updated: formatAtomTime(updated),
		Links: []atomLink{
			{Href: h.baseURL + "/", Rel: "alternate", Type: "text/html"},
			{Href: h.baseURL + "/feed.atom", Rel: "self", Type: "application/atom+xml"},
		},
		Entries: make([]atomEntry, 0, len(tickets)),
	}

	for i := range tickets {
		t := &tickets[i]
		link := h.baseURL + "/" + strconv.FormatInt(t.ID, 10) + "/"
		status := "open"
		if t.IsCompleted {
			status = "completed"
		}
		feed.Entries = append(feed.Entries, atomEntry{
			Title:     t.Title,
			ID:        link,
			Links:     []atomLink{{Href: link, Rel: "alternate", Type: "text/html"}},
			Published: formatAtomTime(t.Date),
			Updated:   formatAtomTime(t.Date),
			Author:    atomAuthor{Name: t.AuthorDisplayName()},
			Category:  atomCategory{Term: status},
			Summary:   atomText{Type: "text", Body: t.Body},
		})
	}
	return feed
}

func formatAtomTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
