package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	shopassistui "github.com/MegaGrindStone/shopassist-web-ui"
	"github.com/MegaGrindStone/shopassist-web-ui/internal/conversation"
	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Backend is the shopping assistant backend as seen by the web UI. Besides the two conversation calls it
// exposes the health probe and the product catalog.
type Backend interface {
	conversation.Backend

	Health(ctx context.Context) error
	Products(ctx context.Context) ([]models.Product, error)
}

// Main handles the core functionality of the shopping assistant UI, managing server-sent events, HTML
// templates, and the conversations driven by the browser.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	backend  Backend
	registry *conversation.Registry

	// tasks tracks the backend requests started by handlers that have not resolved yet.
	tasks *sync.WaitGroup

	logger *slog.Logger
}

// loadingSSEType carries the loading flag of a conversation.
var loadingSSEType = sse.Type("loading")

const errLoggerKey = "err"

// NewMain creates a new Main instance backed by the given Backend. It parses the HTML templates from the
// embedded filesystem and configures the SSE server so that every client subscribes to the topic of the
// conversation it was rendered for. When markdown is true, assistant replies are rendered as Markdown.
func NewMain(backend Backend, markdown bool, logger *slog.Logger) (Main, error) {
	renderer := newContentRenderer(markdown)

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"messageBody":      renderer.messageBody,
		"placeholderImage": func() string { return models.ProductPlaceholderImage },
	}).ParseFS(
		shopassistui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		templates: tmpl,
		backend:   backend,
		tasks:     &sync.WaitGroup{},
		logger:    logger.With(slog.String("module", "main")),
	}
	m.sseSrv = &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			// We only let clients listen to conversations that are still alive
			id := s.Req.URL.Query().Get("conversation_id")
			ctl, ok := m.registry.Get(id)
			if !ok {
				return sse.Subscription{}, false
			}

			// A client that (re)connects may have missed changes, so it starts from the current state
			if err := m.sendState(s, ctl.State()); err != nil {
				m.logger.Error("Failed to send current state",
					slog.String("conversationID", id),
					slog.String(errLoggerKey, err.Error()))
				return sse.Subscription{}, false
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      []string{sse.DefaultTopic, conversationTopic(id)},
			}, true
		},
	}
	m.registry = conversation.NewRegistry(backend, m.publishState, logger)

	return m, nil
}

func conversationTopic(id string) string {
	return fmt.Sprintf("conversation-%s", id)
}

// Registry returns the live conversations served by m.
func (m Main) Registry() *conversation.Registry {
	return m.registry
}

// Shutdown gracefully terminates the Main instance. It waits for outstanding backend requests, then
// broadcasts a close message to all connected clients and waits up to 5 seconds for connections to
// terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		m.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		m.logger.Warn("Shutting down with backend requests still in flight")
	}

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Every SSE event needs a data field, so the close event carries a token payload
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	return m.sseSrv.Shutdown(ctx)
}

// stateEvents renders the conversation regions of state as SSE events: the messages and products regions,
// each named after the template that renders it, followed by the loading flag.
func (m Main) stateEvents(state conversation.State) ([]*sse.Message, error) {
	events := make([]*sse.Message, 0, 3)
	for _, region := range []string{"messages", "products"} {
		var sb strings.Builder
		if err := m.templates.ExecuteTemplate(&sb, region, state); err != nil {
			return nil, fmt.Errorf("error rendering %s: %w", region, err)
		}

		e := &sse.Message{Type: sse.Type(region)}
		e.AppendData(sb.String())
		events = append(events, e)
	}

	e := &sse.Message{Type: loadingSSEType}
	e.AppendData(strconv.FormatBool(state.IsLoading))
	return append(events, e), nil
}

// publishState pushes the rendered state of a conversation to its subscribers.
func (m Main) publishState(id string, state conversation.State) {
	events, err := m.stateEvents(state)
	if err != nil {
		m.logger.Error("Failed to render state",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	topic := conversationTopic(id)
	for _, e := range events {
		if err := m.sseSrv.Publish(e, topic); err != nil {
			m.logger.Error("Failed to publish state",
				slog.String("conversationID", id),
				slog.String(errLoggerKey, err.Error()))
			return
		}
	}
}

// sendState writes the rendered state straight to a single session.
func (m Main) sendState(s *sse.Session, state conversation.State) error {
	events, err := m.stateEvents(state)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := s.Send(e); err != nil {
			return err
		}
	}
	return s.Flush()
}

// async runs fn in the background and keeps track of it for Shutdown.
func (m Main) async(fn func()) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		fn()
	}()
}
