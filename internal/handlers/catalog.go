package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/shopassist-web-ui/internal/models"
)

type catalogPageData struct {
	Products []models.Product
	Error    string
}

// HandleCatalog renders the backend's full product catalog with the same product cards used for
// recommendations. When the backend can't be reached the page is still rendered, with a notice, and a
// 502 status.
func (m Main) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var data catalogPageData
	status := http.StatusOK

	products, err := m.backend.Products(r.Context())
	if err != nil {
		m.logger.Error("Failed to fetch catalog", slog.String(errLoggerKey, err.Error()))
		data.Error = "The product catalog is unavailable right now."
		status = http.StatusBadGateway
	}
	data.Products = products

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := m.templates.ExecuteTemplate(w, "catalog.html", data); err != nil {
		m.logger.Error("Failed to render catalog page", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleHealth reports whether the shopping assistant backend is reachable and healthy.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "healthy"}

	if err := m.backend.Health(r.Context()); err != nil {
		m.logger.Warn("Backend health check failed", slog.String(errLoggerKey, err.Error()))
		status = http.StatusServiceUnavailable
		body = map[string]string{"status": "unhealthy", "backend": "unreachable"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
