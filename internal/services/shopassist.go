package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
)

// ShopAssist is a client for the shopping assistant backend. It implements the conversation Backend
// interface and additionally exposes the backend's health probe and product catalog.
type ShopAssist struct {
	baseURL string
	timeout time.Duration

	client  *http.Client
	metrics *Metrics

	logger *slog.Logger
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

type healthResponse struct {
	Status string `json:"status"`
}

const (
	chatEndpoint        = "/chat"
	imageSearchEndpoint = "/image-search"
	healthEndpoint      = "/health"
	productsEndpoint    = "/products"

	imageFormField = "image"

	// maxErrorBody bounds how much of a failed response body is kept for logging.
	maxErrorBody = 512
)

// NewShopAssist creates a new ShopAssist client for the backend at baseURL. Every request is bounded by
// timeout; a zero timeout leaves requests bounded only by the caller's context. metrics may be nil.
func NewShopAssist(baseURL string, timeout time.Duration, metrics *Metrics, logger *slog.Logger) ShopAssist {
	return ShopAssist{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		metrics: metrics,
		logger:  logger.With(slog.String("module", "shopassist")),
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Chat sends the message together with the prior conversation history to the chat endpoint.
func (s ShopAssist) Chat(ctx context.Context, message string, history []models.Message) (models.AgentResponse, error) {
	if history == nil {
		history = []models.Message{}
	}
	body, err := json.Marshal(models.ChatRequest{
		Message:             message,
		ConversationHistory: history,
	})
	if err != nil {
		return models.AgentResponse{}, fmt.Errorf("error marshaling request: %w", err)
	}

	var res models.AgentResponse
	err = s.do(ctx, http.MethodPost, chatEndpoint, "application/json", bytes.NewReader(body), &res)
	return res, err
}

// ImageSearch uploads the image as a multipart form with a single binary field to the image search
// endpoint. The image content is sent as is; no type or size checks are done here.
func (s ShopAssist) ImageSearch(ctx context.Context, image models.Image) (models.AgentResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		imageFormField, escapeQuotes(image.Filename)))
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return models.AgentResponse{}, fmt.Errorf("error creating form part: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return models.AgentResponse{}, fmt.Errorf("error writing image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.AgentResponse{}, fmt.Errorf("error closing form: %w", err)
	}

	var res models.AgentResponse
	err = s.do(ctx, http.MethodPost, imageSearchEndpoint, mw.FormDataContentType(), &buf, &res)
	return res, err
}

// Health calls the backend's health probe and returns an error unless it reports itself healthy.
func (s ShopAssist) Health(ctx context.Context) error {
	var res healthResponse
	if err := s.do(ctx, http.MethodGet, healthEndpoint, "", nil, &res); err != nil {
		return err
	}
	if res.Status != "healthy" {
		return fmt.Errorf("backend reported status %q", res.Status)
	}
	return nil
}

// Products fetches the full product catalog.
func (s ShopAssist) Products(ctx context.Context) ([]models.Product, error) {
	var res models.Catalog
	if err := s.do(ctx, http.MethodGet, productsEndpoint, "", nil, &res); err != nil {
		return nil, err
	}
	return res.Products, nil
}

func (s ShopAssist) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) (err error) {
	done := s.metrics.observe(endpoint)
	defer func() { done(err) }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	s.logger.Debug("Sending request", slog.String("method", method), slog.String("endpoint", endpoint))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
