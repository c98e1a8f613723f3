package handlers

import (
	"context"
	"net/http"
	"strconv"

	"zyphon/internal/pkg/errors"
	"zyphon/internal/platform/models"
)

type AuditLister interface {
	List(ctx context.Context, action string, limit int) ([]*models.AuditEvent, error)
}

type AuditHandler struct {
	store AuditLister
}

func NewAuditHandler(store AuditLister) *AuditHandler {
	return &AuditHandler{store: store}
}

// List returns the newest events first, optionally for one action.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 100
	}

	events, err := h.store.List(r.Context(), q.Get("action"), limit)
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, "list audit events", err))
		return
	}

	errors.WriteJSON(w, http.StatusOK, events)
}
