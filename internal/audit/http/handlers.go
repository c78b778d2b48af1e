package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aegis-iam/aegis-iam/internal/audit"
	"github.com/aegis-iam/aegis-iam/internal/platform/httpx"
)

// Handler exposes the audit trail to administrators.
type Handler struct {
	logger *slog.Logger
	store  audit.Store
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store audit.Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// handleList serves the trail, newest first. An optional username query
// parameter narrows the listing to one actor.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
			return
		}
		limit = parsed
	}

	username := strings.TrimSpace(r.URL.Query().Get("username"))

	var (
		entries []audit.Entry
		err     error
	)
	if username != "" {
		entries, err = h.store.ListByUsername(r.Context(), username, limit)
	} else {
		entries, err = h.store.ListAll(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("list audit entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}
