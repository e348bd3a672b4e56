package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/aigw/internal/agent"
	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/chat"
	"github.com/kalambet/aigw/internal/composer"
	"github.com/kalambet/aigw/internal/router"
	"github.com/kalambet/aigw/internal/storage"
)

// DefaultGenerateMessage is asked by /ai/generate when no message is given.
const DefaultGenerateMessage = "Who is Ronaldo?"

const (
	noBackendMessage  = "Sorry, no model backend could answer the request right now. Please try again later."
	invalidImageReply = "Error: Please upload a valid image file."
)

func (h *handlers) handleGenerate(w http.ResponseWriter, r *http.Request) {
	msg := r.URL.Query().Get("message")
	if msg == "" {
		msg = DefaultGenerateMessage
	}
	out, err := h.Chat.Ask(r.Context(), "", msg, h.Routes.Default)
	h.reply(w, r, out, err, plainText)
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg, userID := q.Get("message"), q.Get("userId")
	if msg == "" {
		httpError(w, http.StatusBadRequest, "message is required")
		return
	}
	if userID == "" {
		httpError(w, http.StatusBadRequest, "userId is required")
		return
	}
	out, err := h.Chat.Chat(r.Context(), userID, msg, h.Routes.Default)
	h.reply(w, r, out, err, plainText)
}

func (h *handlers) handleClearChat(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	err := h.Chat.Clear(r.Context(), userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "no conversation for userId %s", userID)
	case err != nil:
		h.Logger.Error("clearing conversation failed", "conversation", userID, "error", err)
		httpError(w, http.StatusInternalServerError, "could not clear the conversation")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) handleFallbackGenerate(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if question == "" {
		httpError(w, http.StatusBadRequest, "question is required")
		return
	}
	out, err := h.Chat.Ask(r.Context(), "", question, h.Routes.Generate)
	h.reply(w, r, out, err, func(o router.Outcome) string {
		if o.Fallback() {
			return "[" + displayName(o.BackendID) + " Fallback] " + o.Text
		}
		return o.Text
	})
}

func (h *handlers) handleAgentAsk(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if question == "" {
		httpError(w, http.StatusBadRequest, "question is required")
		return
	}
	out, err := h.Agent.Ask(r.Context(), composer.SystemMonitorPrompt, question, h.Routes.Agent)
	h.reply(w, r, out, err, func(o router.Outcome) string {
		return o.Text + " provided by " + displayName(o.BackendID) + " model"
	})
}

// handleVision sends an uploaded image to the primary vision backend only.
func (h *handlers) handleVision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "Error: image exceeds %d bytes.", tooLarge.Limit)
			return
		}
		writeText(w, http.StatusBadRequest, invalidImageReply)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeText(w, http.StatusBadRequest, invalidImageReply)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeText(w, http.StatusBadRequest, invalidImageReply)
		return
	}
	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		writeText(w, http.StatusBadRequest, invalidImageReply)
		return
	}

	var primary []backend.Backend
	if len(h.Routes.Vision) > 0 {
		primary = h.Routes.Vision[:1]
	}
	out, err := h.Chat.Describe(r.Context(), r.FormValue("question"), backend.Image{MIMEType: mimeType, Data: data}, primary)
	if errors.Is(err, chat.ErrEmptyImage) {
		writeText(w, http.StatusBadRequest, invalidImageReply)
		return
	}
	h.reply(w, r, out, err, plainText)
}

func (h *handlers) handleSupportAsk(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if question == "" {
		httpError(w, http.StatusBadRequest, "question is required")
		return
	}
	out, err := h.Chat.Ask(r.Context(), composer.SupportPersona, question, h.Routes.Support)
	h.reply(w, r, out, err, plainText)
}

func (h *handlers) handleSupportStream(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if question == "" {
		httpError(w, http.StatusBadRequest, "question is required")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	s, err := h.openStream(r.Context(), h.Routes.Support, func(b backend.Backend) (backend.Stream, error) {
		return h.Chat.Stream(r.Context(), composer.SupportPersona, question, b)
	})
	if err != nil {
		h.streamOpenFailed(w, r, err)
		return
	}
	h.streamSSE(w, r, s)
}

func plainText(o router.Outcome) string { return o.Text }

// reply writes a routed answer. Total routing failure and request-fatal
// errors become a short text message; details go to the log.
func (h *handlers) reply(w http.ResponseWriter, r *http.Request, out router.Outcome, err error, render func(router.Outcome) string) {
	if err != nil {
		var loop *agent.ToolLoopExceededError
		switch {
		case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
			h.Logger.Debug("client went away", "path", r.URL.Path)
		case errors.As(err, &loop):
			h.Logger.Warn("tool loop exceeded", "path", r.URL.Path, "max_iterations", loop.MaxIterations, "last_tools", loop.LastTools)
			httpError(w, http.StatusInternalServerError, "Error: the model kept requesting tools and did not produce an answer after %d steps.", loop.MaxIterations)
		default:
			h.Logger.Error("request failed", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "Error: the request could not be completed.")
		}
		return
	}
	if out.Kind == router.TotalFailure {
		h.Logger.Warn("no backend answered", "path", r.URL.Path, "error", out.Err())
		writeText(w, http.StatusServiceUnavailable, noBackendMessage)
		return
	}
	writeText(w, http.StatusOK, render(out))
}
