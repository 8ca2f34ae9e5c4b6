package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// MarkResponse acknowledges an applied mark.
type MarkResponse struct {
	ID string `json:"id"`
}

// readBody reads the whole request body and rejects payloads that are not
// JSON at all, so later parse errors are about content only.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return nil, false
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, ErrCodeBadJSON, "Request body is not valid JSON")
		return nil, false
	}
	return body, true
}

func (h *Handler) readQuery(w http.ResponseWriter, r *http.Request) (model.Query, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return model.Query{}, false
	}
	q, err := model.ParseQuery(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return model.Query{}, false
	}
	return q, true
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	stage, ok := h.stageOrError(w, r)
	if !ok {
		return
	}
	q, ok := h.readQuery(w, r)
	if !ok {
		return
	}

	doc, err := h.service.FetchAndClaim(r.Context(), q, stage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDocument(w, doc)
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.stageOrError(w, r); !ok {
		return
	}
	q, ok := h.readQuery(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Fetch(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDocument(w, doc)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	stage, ok := h.stageOrError(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	doc, err := model.ParseDocument(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	saved, err := h.service.Write(r.Context(), doc, stage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDocument(w, saved)
}

// markHandler serves one of the four fixed outcome endpoints.
func (h *Handler) markHandler(status model.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage, ok := h.stageOrError(w, r)
		if !ok {
			return
		}
		trace := h.service.NewPerfTrace(markRouteName(status), stage)

		body, ok := readBody(w, r)
		if !ok {
			return
		}
		trace.Phase("receive")

		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadJSON, "Request body must be a JSON object")
			return
		}
		trace.Phase("parse")

		doc, err := model.ParseDocument(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		trace.Phase("convert")

		applied, err := h.service.ReportMark(r.Context(), doc, stage, status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		trace.Phase("mark")

		if !applied {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, MarkResponse{ID: doc.ID})
		trace.Phase("serialize")
		h.service.LogPerformance(trace, doc.ID)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeDocument writes doc, or 204 when there is none.
func writeDocument(w http.ResponseWriter, doc *model.Document) {
	if doc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
