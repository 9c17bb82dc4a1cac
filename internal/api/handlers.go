package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"realty_tracker/internal/model"
	"realty_tracker/internal/scraper"
	"realty_tracker/internal/storage"
	"realty_tracker/internal/tracker"
)

type handlers struct {
	svc Service
	log *slog.Logger
}

type successResponse struct {
	Success string `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`
}

func (h *handlers) crawl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wipe, err := boolParam(q.Get("wipe"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("wipe: %w", err))
		return
	}
	full, err := boolParam(q.Get("full"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("full: %w", err))
		return
	}
	var sources []string
	for _, s := range q["source"] {
		for _, id := range strings.Split(s, ",") {
			if id = strings.TrimSpace(id); id != "" {
				sources = append(sources, id)
			}
		}
	}

	report, err := h.svc.Crawl(r.Context(), scraper.CrawlOptions{SourceIDs: sources, Wipe: wipe, Full: full})
	if err != nil {
		h.fail(w, statusOf(err), err)
		return
	}
	h.ok(w, fmt.Sprintf("stored %d entities from %d source(s)", report.Stored(), len(report.Sources)))
}

func (h *handlers) match(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Match(r.Context())
	if err != nil {
		h.fail(w, statusOf(err), err)
		return
	}
	h.ok(w, fmt.Sprintf("processed %d request(s) over %d entities: %d matched, %d notified, %d advisories",
		report.Processed, report.Entities, report.Matched, report.Notified, report.Advisories))
}

func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Cleanup(r.Context())
	if err != nil {
		h.fail(w, statusOf(err), err)
		return
	}
	h.ok(w, fmt.Sprintf("deleted %d entities", n))
}

func (h *handlers) stopSignal(w http.ResponseWriter, r *http.Request) {
	stop, err := strconv.ParseBool(r.URL.Query().Get("signal"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, errors.New("signal must be true or false"))
		return
	}
	h.svc.SetStopSignal(stop)
	h.ok(w, fmt.Sprintf("stop signal set to %t", stop))
}

type point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type entityResponse struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"sourceId"`
	EntityID     string    `json:"entityId"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	RealtyType   string    `json:"realtyType"`
	AreaSize     float64   `json:"areaSize"`
	YardAreaSize *float64  `json:"yardAreaSize,omitempty"`
	Rooms        int       `json:"rooms"`
	Bedrooms     int       `json:"bedrooms"`
	Address      string    `json:"address"`
	District     *string   `json:"district,omitempty"`
	Subdistrict  *string   `json:"subdistrict,omitempty"`
	Coordinates  *point    `json:"coordinates,omitempty"`
	PostedAt     time.Time `json:"postedAt"`
	ScrapedAt    time.Time `json:"scrapedAt"`
	OutOfArea    bool      `json:"outOfArea"`
}

func toEntityResponse(e *model.Entity) entityResponse {
	resp := entityResponse{
		ID:           e.ID,
		SourceID:     e.SourceID,
		EntityID:     e.EntityID,
		Price:        e.Price,
		Currency:     string(e.Currency),
		RealtyType:   string(e.RealtyType),
		AreaSize:     e.AreaSize,
		YardAreaSize: e.YardAreaSize,
		Rooms:        e.Rooms,
		Bedrooms:     e.Bedrooms,
		Address:      e.Location.Address,
		District:     e.Location.District,
		Subdistrict:  e.Location.Subdistrict,
		PostedAt:     e.PostedAt,
		ScrapedAt:    e.ScrapedAt,
		OutOfArea:    e.OutOfArea,
	}
	if c := e.Location.Coordinates; c != nil {
		resp.Coordinates = &point{Lng: c.Lng, Lat: c.Lat}
	}
	return resp
}

func (h *handlers) entity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.svc.Entity(r.Context(), id)
	if err != nil {
		h.fail(w, statusOf(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEntityResponse(e))
}

type entityRef struct {
	SourceID string `json:"sourceId"`
	EntityID string `json:"entityId"`
}

func (h *handlers) entityIDs(w http.ResponseWriter, r *http.Request) {
	refs, err := h.svc.EntityRefs(r.Context())
	if err != nil {
		h.fail(w, statusOf(err), err)
		return
	}
	out := make([]entityRef, 0, len(refs))
	for _, ref := range refs {
		out = append(out, entityRef{SourceID: ref.SourceID, EntityID: ref.EntityID})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handlers) ok(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusOK, successResponse{Success: msg})
}

func (h *handlers) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Stack: errorChain(err)})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "error", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, tracker.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, tracker.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorChain lists the wrapped errors of err, outermost first, one per
// line. Joined errors are expanded.
func errorChain(err error) string {
	var lines []string
	var walk func(err error, depth int)
	walk = func(err error, depth int) {
		if err == nil {
			return
		}
		lines = append(lines, strings.Repeat("  ", depth)+err.Error())
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				walk(e, depth+1)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap(), depth+1)
		}
	}
	walk(err, 0)
	if len(lines) <= 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func boolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
