package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
	"github.com/MegaGrindStone/shopassist-web-ui/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) (services.ShopAssist, *prometheus.Registry) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	metrics, err := services.NewMetrics(reg)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return services.NewShopAssist(srv.URL+"/", timeout, metrics, logger), reg
}

func TestShopAssistChat(t *testing.T) {
	var got models.ChatRequest
	client, reg := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response":"Here are some jackets","products":[{"id":1,"name":"Rain Jacket","price":89.99}],"response_type":"text_recommendation"}`)
	}, time.Second)

	history := []models.Message{
		{Role: models.RoleAssistant, Content: "Hello!"},
		{Role: models.RoleUser, Content: "hi"},
	}
	res, err := client.Chat(context.Background(), "find me a jacket", history)
	require.NoError(t, err)

	assert.Equal(t, "find me a jacket", got.Message)
	assert.Equal(t, history, got.ConversationHistory)
	assert.Equal(t, "Here are some jackets", res.Response)
	assert.Equal(t, models.ResponseTypeTextRecommendation, res.ResponseType)
	require.Len(t, res.Products, 1)
	assert.Equal(t, 1, res.Products[0].ID)

	assert.Equal(t, 1.0, requestCount(t, reg, "/chat", "success"))
}

func TestShopAssistChatSendsEmptyHistory(t *testing.T) {
	var raw map[string]json.RawMessage
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = io.WriteString(w, `{"response":"Hi","products":null,"response_type":"conversation"}`)
	}, time.Second)

	_, err := client.Chat(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw["conversation_history"]))
}

func TestShopAssistChatFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "Malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"products":[]}`)
			},
		},
		{
			name: "Unknown response type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"response":"ok","response_type":"banner"}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, reg := newTestClient(t, tt.handler, time.Second)

			_, err := client.Chat(context.Background(), "hi", nil)
			require.Error(t, err)

			var statusErr *services.StatusError
			if tt.wantStatus != 0 {
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.wantStatus, statusErr.StatusCode)
			} else {
				assert.False(t, errors.As(err, &statusErr))
			}
			assert.Equal(t, 1.0, requestCount(t, reg, "/chat", "failure"))
		})
	}
}

func TestShopAssistTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	client, _ := newTestClient(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)

	_, err := client.Chat(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShopAssistImageSearch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/image-search", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		f, fh, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()

		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "shoe.png", fh.Filename)
		assert.Equal(t, "image/png", fh.Header.Get("Content-Type"))
		assert.Equal(t, []byte("\x89PNG fake"), data)

		_, _ = io.WriteString(w, `{"response":"These look similar","products":[{"id":7,"name":"Runner"}],"response_type":"image_search"}`)
	}, time.Second)

	res, err := client.ImageSearch(context.Background(), models.Image{
		Filename:    "shoe.png",
		ContentType: "image/png",
		Data:        []byte("\x89PNG fake"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResponseTypeImageSearch, res.ResponseType)
	assert.Len(t, res.Products, 1)
}

func TestShopAssistHealth(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantErr bool
	}{
		{name: "Healthy", body: `{"status":"healthy"}`, status: http.StatusOK},
		{name: "Degraded", body: `{"status":"degraded"}`, status: http.StatusOK, wantErr: true},
		{name: "Down", body: `oops`, status: http.StatusBadGateway, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, time.Second)

			err := client.Health(context.Background())
			assert.Equal(t, tt.wantErr, err != nil, "Health() error = %v", err)
		})
	}
}

func TestShopAssistProducts(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/products", r.URL.Path)
		_, _ = io.WriteString(w, `{"products":[{"id":1,"name":"Tee"},{"id":2,"name":"Cap"}],"count":2}`)
	}, time.Second)

	products, err := client.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Cap", products[1].Name)
}

func requestCount(t *testing.T, reg *prometheus.Registry, endpoint, outcome string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "shopassist_backend_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["endpoint"] == endpoint && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
