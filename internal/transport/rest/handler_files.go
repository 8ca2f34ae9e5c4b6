package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/syntrixbase/stagehand/pkg/model"
)

func (h *Handler) handleFileNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.GetFileNames(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.service.GetFile(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if file == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if file.Encoding != "" {
		w.Header().Set(HeaderFileEncoding, file.Encoding)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (h *Handler) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	file := &model.DocumentFile{
		DocumentID: r.PathValue("id"),
		Name:       r.PathValue("name"),
		Encoding:   r.Header.Get(HeaderFileEncoding),
		MimeType:   r.Header.Get("Content-Type"),
		Data:       data,
	}
	if err := h.service.SaveFile(r.Context(), file); err != nil {
		writeServiceError(w, r, err)
		return
	}

	file.Data = nil
	writeJSON(w, http.StatusOK, file)
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteFile(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !deleted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
}
