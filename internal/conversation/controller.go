// Package conversation owns the state of a shopping conversation and mediates every call made to the
// shopping assistant backend on its behalf.
package conversation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
)

// Backend is the remote shopping assistant. Both calls resolve to the same response shape.
type Backend interface {
	Chat(ctx context.Context, message string, history []models.Message) (models.AgentResponse, error)
	ImageSearch(ctx context.Context, image models.Image) (models.AgentResponse, error)
}

// ChangeFunc is called with a fresh snapshot after every state change of the conversation identified by id.
type ChangeFunc func(id string, state State)

// State is a read-only snapshot of a conversation.
type State struct {
	Messages []models.Message
	// Products is the latest recommendation batch. Each response replaces it entirely.
	Products  []models.Product
	IsLoading bool
	// LastResponseType is the response type that produced Products. It is not used for rendering decisions.
	LastResponseType models.ResponseType
}

// Controller holds one conversation and is its only mutator. All methods are safe for concurrent use.
//
// Requests may overlap. Each request is stamped with a generation number and products are only replaced
// by a response newer than the one that last replaced them, so a slow earlier request can't clobber a
// later recommendation batch. The loading flag stays set until every outstanding request has resolved.
//
// Change notifications are delivered one at a time, each with a snapshot taken after the change it
// reports, so the last snapshot handed to the callback is always the current state.
type Controller struct {
	id       string
	backend  Backend
	onChange ChangeFunc
	logger   *slog.Logger

	// notifyMu is held across taking a snapshot and handing it to onChange.
	notifyMu sync.Mutex

	mu           sync.Mutex
	messages     []models.Message
	products     []models.Product
	responseType models.ResponseType
	inFlight     int
	generation   uint64
	productsGen  uint64
	watchers     int
	lastActive   time.Time
}

const (
	// Greeting opens every conversation.
	Greeting = "Hello! I'm ShopAssist, your AI shopping assistant. I can help you find products, " +
		"recommend items based on your needs, or search by image. How can I help you today?"

	// ChatFailureReply replaces the assistant reply when the chat request fails.
	ChatFailureReply = "Sorry, I encountered an error. Please try again."
	// ImageFailureReply replaces the assistant reply when the image search fails.
	ImageFailureReply = "Sorry, I couldn't process the image. Please try again."

	// HistoryLimit caps the number of prior messages sent along with a chat request.
	HistoryLimit = 10

	errLoggerKey = "err"
)

// NewController creates a conversation seeded with the assistant greeting. onChange may be nil.
func NewController(id string, backend Backend, onChange ChangeFunc, logger *slog.Logger) *Controller {
	return &Controller{
		id:       id,
		backend:  backend,
		onChange: onChange,
		logger:   logger.With(slog.String("module", "conversation"), slog.String("conversationID", id)),
		messages: []models.Message{
			{Role: models.RoleAssistant, Content: Greeting},
		},
		lastActive: time.Now(),
	}
}

// ID returns the conversation identifier.
func (c *Controller) ID() string {
	return c.id
}

// State returns a snapshot of the conversation.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// SendTextMessage sends content to the chat endpoint and blocks until the request resolves. It does
// nothing and returns false when content is blank.
//
// The user message is appended before the request is issued. On success the reply is appended and the
// recommendation batch replaced; on failure a fixed apology is appended instead. Either way the loading
// flag is cleared once the request resolves.
func (c *Controller) SendTextMessage(ctx context.Context, content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}

	c.mu.Lock()
	history := c.historyLocked()
	c.messages = append(c.messages, models.Message{Role: models.RoleUser, Content: content})
	gen := c.beginLocked()
	c.mu.Unlock()
	c.notify()

	defer c.finish()

	res, err := c.backend.Chat(ctx, content, history)
	if err != nil {
		c.logger.Error("Chat request failed", slog.String(errLoggerKey, err.Error()))
		c.appendMessages(models.Message{Role: models.RoleAssistant, Content: ChatFailureReply})
		return true
	}

	c.applyResponse(gen, res, models.Message{Role: models.RoleAssistant, Content: res.Response})
	return true
}

// SendImageMessage uploads image to the image search endpoint and blocks until the request resolves.
// The image is not validated in any way.
//
// Unlike SendTextMessage, the user's placeholder message is only appended once the search succeeds,
// immediately followed by the reply. On failure only the fixed apology is appended.
func (c *Controller) SendImageMessage(ctx context.Context, image models.Image) {
	c.mu.Lock()
	gen := c.beginLocked()
	c.mu.Unlock()
	c.notify()

	defer c.finish()

	res, err := c.backend.ImageSearch(ctx, image)
	if err != nil {
		c.logger.Error("Image search failed",
			slog.String("filename", image.Filename),
			slog.String(errLoggerKey, err.Error()))
		c.appendMessages(models.Message{Role: models.RoleAssistant, Content: ImageFailureReply})
		return
	}

	c.applyResponse(gen, res,
		models.Message{Role: models.RoleUser, Content: models.ImagePlaceholder(image.Filename)},
		models.Message{Role: models.RoleAssistant, Content: res.Response},
	)
}

// Watch marks the conversation as being displayed, typically by an open event stream. A watched
// conversation is never idle. The returned func ends the watch and must be called exactly once.
func (c *Controller) Watch() (release func()) {
	c.mu.Lock()
	c.watchers++
	c.lastActive = time.Now()
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.watchers--
			c.lastActive = time.Now()
			c.mu.Unlock()
		})
	}
}

// Idle reports whether the conversation has no request in flight, is not watched, and was last active
// before the given time.
func (c *Controller) Idle(before time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight == 0 && c.watchers == 0 && c.lastActive.Before(before)
}

// historyLocked returns the most recent messages, oldest first.
func (c *Controller) historyLocked() []models.Message {
	start := max(len(c.messages)-HistoryLimit, 0)
	return slices.Clone(c.messages[start:])
}

func (c *Controller) beginLocked() uint64 {
	c.inFlight++
	c.generation++
	c.lastActive = time.Now()
	return c.generation
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.inFlight--
	c.lastActive = time.Now()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) appendMessages(msgs ...models.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) applyResponse(gen uint64, res models.AgentResponse, msgs ...models.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	if gen > c.productsGen {
		c.productsGen = gen
		c.products = slices.Clone(res.Products)
		c.responseType = res.ResponseType
	} else {
		c.logger.Debug("Dropping stale recommendation batch", slog.Uint64("generation", gen))
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) stateLocked() State {
	products := slices.Clone(c.products)
	if products == nil {
		products = []models.Product{}
	}
	return State{
		Messages:         slices.Clone(c.messages),
		Products:         products,
		IsLoading:        c.inFlight > 0,
		LastResponseType: c.responseType,
	}
}

// notify hands a snapshot to the change callback. It must be called without holding mu.
func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onChange(c.id, c.State())
}
