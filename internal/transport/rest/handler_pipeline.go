package rest

import (
	"net/http"

	"github.com/syntrixbase/stagehand/pkg/model"
)

func (h *Handler) handlePipeline(w http.ResponseWriter, r *http.Request) {
	h.writePipeline(w, h.pipelines.Pipeline())
}

func (h *Handler) handleDebugPipeline(w http.ResponseWriter, r *http.Request) {
	h.writePipeline(w, h.pipelines.DebugPipeline())
}

func (h *Handler) writePipeline(w http.ResponseWriter, p *model.Pipeline) {
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := h.pipelines.Stage(r.PathValue("name"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, stage)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
