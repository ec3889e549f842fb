package storage

import (
	"net/http"
	"strings"

	"github.com/campusnet/forum/internal/messaging"
	"go.uber.org/zap"
)

// Handler serves stored objects under PublicPrefix/{kind}/{key}.
type Handler struct {
	service *Storage
	logger  *zap.Logger
}

func NewHandler(service *Storage, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, PublicPrefix+"/")
	kind, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	fullPath, err := h.service.resolve(messaging.Kind(kind), key)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	h.logger.Debug("serving attachment",
		zap.String("requested_path", r.URL.Path),
		zap.String("full_path", fullPath),
	)

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, fullPath)
}
