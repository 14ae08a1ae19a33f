package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/crajybot/internal/members"
	"github.com/mmeshcher/crajybot/internal/metrics"
	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/timeutil"
)

type messageRequest struct {
	AuthorID  flexString `json:"author_id"`
	ChannelID flexString `json:"channel_id"`
	Bot       bool       `json:"bot"`
}

// RecordMessage принимает событие о сообщении в чате. Ответ 202 без тела.
func (h *Handler) RecordMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	if req.AuthorID == "" || req.ChannelID == "" {
		h.badRequest(w, "author_id and channel_id are required")
		return
	}

	h.metrics.RecordMessage(string(req.AuthorID), string(req.ChannelID), req.Bot)
	w.WriteHeader(http.StatusAccepted)
}

// StartMetrics включает сбор метрик.
func (h *Handler) StartMetrics(w http.ResponseWriter, r *http.Request) {
	if err := h.metrics.Start(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}

	st := h.metrics.Status()
	h.ok(w, "Metrics Tracking: Started!", fmt.Sprintf("Time: %s", formatTime(st.TrackingSince)), st)
}

// StopMetrics выключает сбор метрик.
func (h *Handler) StopMetrics(w http.ResponseWriter, r *http.Request) {
	if err := h.metrics.Stop(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}

	st := h.metrics.Status()
	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{
			Title:       "Metrics Tracking: Stopped",
			Description: fmt.Sprintf("Last data dump: %s", formatTime(st.LastFlush)),
			Severity:    model.SeverityWarning,
		},
		Data: st,
	})
}

// GetMetricsStatus возвращает состояние сбора.
func (h *Handler) GetMetricsStatus(w http.ResponseWriter, r *http.Request) {
	st := h.metrics.Status()

	desc := fmt.Sprintf("Been tracking since: %s\nLast data dump: %s",
		formatTime(st.TrackingSince), formatTime(st.LastFlush))

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: "Metrics", Description: desc, Severity: model.SeverityInfo},
		Data:   st,
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("15:04, 02 January, 2006")
}

type seriesResponse struct {
	Since     time.Time      `json:"since"`
	Snapshots int            `json:"snapshots"`
	Series    metrics.Series `json:"series"`
}

// GetMetrics строит ряд по снимкам за период.
// Параметры: span=6h|3d (по умолчанию с полуночи), limit, kind=total|member|channel, id, unit, zero_fill.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var span *timeutil.Span
	unit := timeutil.Hours
	if v := q.Get("span"); v != "" {
		s, err := timeutil.ParseDurationSpec(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		span = &s
		unit = s.Unit
	}
	if v := q.Get("unit"); v != "" {
		u, err := timeutil.ParseUnit(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		unit = u
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	kind, err := metrics.ParseKind(q.Get("kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	objectID := strings.TrimSpace(q.Get("id"))
	if kind == metrics.KindMember && objectID != "" {
		id, err := h.resolver.Resolve(r.Context(), members.ParseRef(objectID))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		objectID = strconv.FormatInt(id, 10)
	}

	zeroFill, _ := strconv.ParseBool(q.Get("zero_fill"))

	since := h.metrics.Since(h.now(), span)
	snaps, err := h.metrics.QueryRange(r.Context(), since, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	series, err := h.metrics.SeriesFor(metrics.Query{
		Kind:           kind,
		ObjectID:       objectID,
		Unit:           unit,
		ZeroFillAbsent: zeroFill,
	}, snaps)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	title := fmt.Sprintf("Messages sent, %s", unit)
	if series.Label != string(metrics.KindTotal) {
		title = fmt.Sprintf("Messages sent by %s, %s", series.Label, unit)
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{
			Title:       title,
			Description: fmt.Sprintf("Since %s", since.Format("2006/01/02 15:04")),
			Severity:    model.SeverityInfo,
		},
		Data: seriesResponse{Since: since, Snapshots: len(snaps), Series: series},
	})
}
