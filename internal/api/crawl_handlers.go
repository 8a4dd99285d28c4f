package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/progress"
)

// progressEventView is the JSON shape of one progress event.
type progressEventView struct {
	CrawlID    string    `json:"crawl_id"`
	TS         time.Time `json:"ts"`
	Stage      string    `json:"stage"`
	Mode       string    `json:"mode,omitempty"`
	Source     string    `json:"source,omitempty"`
	Page       int64     `json:"page,omitempty"`
	Items      int       `json:"items,omitempty"`
	Absent     int       `json:"absent,omitempty"`
	Pending    int       `json:"pending,omitempty"`
	ETASeconds int64     `json:"eta_seconds,omitempty"`
	DurMs      int64     `json:"dur_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

func newProgressEventView(evt progress.Event) progressEventView {
	return progressEventView{
		CrawlID:    evt.CrawlUUID().String(),
		TS:         evt.TS,
		Stage:      string(evt.Stage),
		Mode:       evt.Mode,
		Source:     evt.Source,
		Page:       evt.Page,
		Items:      evt.Items,
		Absent:     evt.Absent,
		Pending:    evt.Pending,
		ETASeconds: evt.ETASeconds,
		DurMs:      evt.Dur.Milliseconds(),
		Note:       evt.Note,
	}
}

// startCrawl serves POST /v1/crawl/start. The crawl cycle runs in a
// background goroutine bound to the process lifetime context, so the
// response returns as soon as the cycle is launched. A second start while a
// crawl is active is a no-op (though reset=true still rewinds the cursor).
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	reset := false
	if raw := r.URL.Query().Get("reset"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "reset must be a boolean")
			return
		}
		reset = parsed
	}

	go func() {
		if err := s.crawler.StartCrawl(s.crawlCtx, reset); err != nil {
			s.logger.Error("crawl cycle ended with error", zap.Error(err))
		}
	}()

	writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"started": true, "reset": reset})
}

// crawlStatus serves GET /v1/crawl/status with the live cursor, pending
// enrichment count, and ETA.
func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, s.crawler.Status(r.Context()))
}

// crawlProgress serves GET /v1/crawl/progress: the recent activity feed
// retained by the in-memory ring sink, oldest-first.
func (s *Server) crawlProgress(w http.ResponseWriter, _ *http.Request) {
	events := []progressEventView{}
	if s.activity != nil {
		for _, evt := range s.activity.Snapshot() {
			events = append(events, newProgressEventView(evt))
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"events": events})
}
