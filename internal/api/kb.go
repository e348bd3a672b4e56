package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/pipeline"
)

// DocumentIDHeader carries the id assigned to an uploaded document.
const DocumentIDHeader = "X-Document-Id"

func (h *handlers) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentSize)
	if err := r.ParseMultipartForm(maxDocumentSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "Error: document exceeds %d bytes.", tooLarge.Limit)
			return
		}
		httpError(w, http.StatusBadRequest, "Error: expected a multipart upload with a file field.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "Error: Please upload a document file.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "Error: could not read the uploaded file.")
		return
	}

	doc := pipeline.Document{
		ID:          uuid.NewString(),
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}
	n, err := h.Knowledge.Ingest(r.Context(), doc)
	if err != nil {
		var ie *pipeline.IngestionError
		if errors.As(err, &ie) {
			h.Logger.Warn("document rejected", "doc_id", ie.DocID, "file", hdr.Filename, "stage", ie.Stage, "error", ie.Err)
			httpError(w, http.StatusUnprocessableEntity, "Error: %s could not be added to the knowledge base (%s failed: %v).", hdr.Filename, ie.Stage, ie.Err)
			return
		}
		h.Logger.Error("ingestion failed", "file", hdr.Filename, "error", err)
		httpError(w, http.StatusInternalServerError, "Error: the document could not be ingested.")
		return
	}

	w.Header().Set(DocumentIDHeader, doc.ID)
	writeText(w, http.StatusOK, fmt.Sprintf("File uploaded to knowledge base! (%d chunks)", n))
}

func (h *handlers) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.Knowledge.DeleteDocument(r.Context(), id)
	if err != nil {
		h.Logger.Error("deleting document failed", "doc_id", id, "error", err)
		httpError(w, http.StatusInternalServerError, "Error: the document could not be deleted.")
		return
	}
	if n == 0 {
		httpError(w, http.StatusNotFound, "document %s not found", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleKnowledgeAsk streams a retrieval-augmented answer as server-sent
// events.
func (h *handlers) handleKnowledgeAsk(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if question == "" {
		httpError(w, http.StatusBadRequest, "question is required")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req, res, err := h.Knowledge.Prompt(r.Context(), question)
	if err != nil {
		h.Logger.Error("knowledge base search failed", "error", err)
		httpError(w, http.StatusInternalServerError, "Error: the knowledge base could not be searched.")
		return
	}
	h.Logger.Debug("retrieval finished", "accepted", len(res.Accepted), "discarded", len(res.Discarded))

	s, err := h.openStream(r.Context(), h.Routes.RAG, func(b backend.Backend) (backend.Stream, error) {
		return b.Stream(r.Context(), req)
	})
	if err != nil {
		h.streamOpenFailed(w, r, err)
		return
	}
	h.streamSSE(w, r, s)
}
