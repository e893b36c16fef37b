package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/conversation"
	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
)

type homePageData struct {
	ConversationID string
	State          conversation.State
}

const (
	imageFormField = "image"

	// multipartMemory is how much of an upload is buffered in memory before spilling to disk. It is not a
	// size limit.
	multipartMemory = 32 << 20
)

// HandleHome renders the chat page. Every page load starts a new conversation, so reloading the page
// discards the previous one.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctl := m.registry.New()
	m.logger.Debug("Started conversation", slog.String("conversationID", ctl.ID()))

	data := homePageData{
		ConversationID: ctl.ID(),
		State:          ctl.State(),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSSE streams the state changes of the conversation named by the "conversation_id" query
// parameter. The conversation is kept alive for as long as the stream stays open.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("conversation_id")
	ctl, ok := m.registry.Get(id)
	if !ok {
		m.logger.Error("Conversation not found", slog.String("conversationID", id))
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	release := ctl.Watch()
	defer release()

	// ServeHTTP blocks until the client goes away or the SSE server shuts down
	m.sseSrv.ServeHTTP(w, r)
}

// HandleChats accepts a text message for a conversation through HTTP POST requests. It expects the
// "conversation_id" and "message" form fields.
//
// A message that is blank after trimming is ignored and answered with 204. Otherwise the message is
// handed to the conversation and the handler answers 202 right away; the user message, the loading
// indicator and the eventual reply all reach the page through SSE.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctl, ok := m.conversationFromForm(w, r)
	if !ok {
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	m.async(func() {
		ctl.SendTextMessage(context.Background(), msg)
	})
	w.WriteHeader(http.StatusAccepted)
}

// HandleImageSearch accepts an image for a conversation through a multipart HTTP POST request with the
// "conversation_id" field and the "image" file. The file is not validated. Like HandleChats it answers
// 202 and delivers the outcome through SSE.
func (m Main) HandleImageSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		m.logger.Error("Failed to parse multipart form", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	ctl, ok := m.conversationFromForm(w, r)
	if !ok {
		return
	}

	f, fh, err := r.FormFile(imageFormField)
	if err != nil {
		m.logger.Error("Image is required", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Image is required", http.StatusBadRequest)
		return
	}
	defer f.Close()

	// The search outlives this request, so the upload is read in full before handing it over
	data, err := io.ReadAll(f)
	if err != nil {
		m.logger.Error("Failed to read image", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	img := models.Image{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}
	m.async(func() {
		ctl.SendImageMessage(context.Background(), img)
	})
	w.WriteHeader(http.StatusAccepted)
}

func (m Main) conversationFromForm(w http.ResponseWriter, r *http.Request) (*conversation.Controller, bool) {
	id := r.FormValue("conversation_id")
	if id == "" {
		m.logger.Error("Conversation ID is required")
		http.Error(w, "Conversation ID is required", http.StatusBadRequest)
		return nil, false
	}

	ctl, ok := m.registry.Get(id)
	if !ok {
		m.logger.Error("Conversation not found", slog.String("conversationID", id))
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	return ctl, true
}
