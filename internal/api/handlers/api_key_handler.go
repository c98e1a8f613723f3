package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	apiContext "zyphon/internal/api/context"
	"zyphon/internal/engine/keys"
	"zyphon/internal/pkg/errors"
	"zyphon/internal/pkg/validator"
	"zyphon/internal/platform/auth"
	"zyphon/internal/platform/models"
)

type KeyService interface {
	Create(ctx context.Context, actor keys.Actor, name string, scopes []string) (*keys.Issued, error)
	Rotate(ctx context.Context, actor keys.Actor, id string) (*keys.Issued, error)
	Revoke(ctx context.Context, actor keys.Actor, id string) (*models.APIKey, error)
	Get(ctx context.Context, id string) (*models.APIKey, error)
	List(ctx context.Context, limit, offset int) ([]*models.APIKey, error)
}

type APIKeyHandler struct {
	svc KeyService
}

func NewAPIKeyHandler(svc KeyService) *APIKeyHandler {
	return &APIKeyHandler{svc: svc}
}

type CreateKeyRequest struct {
	Name   string   `json:"name" validate:"required,max=100"`
	Scopes []string `json:"scopes" validate:"required,min=1,max=10"`
}

// IssuedKeyResponse is the only response that carries the raw key.
type IssuedKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)

	var req CreateKeyRequest
	if err := validator.Decode(r, &req); err != nil {
		errors.Write(w, err)
		return
	}

	issued, err := h.svc.Create(r.Context(), actorFrom(r), req.Name, req.Scopes)
	if err != nil {
		errors.Write(w, err)
		return
	}

	errors.WriteJSON(w, http.StatusCreated, IssuedKeyResponse{APIKey: issued.Key, Key: issued.Secret})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		errors.Write(w, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, list)
}

func (h *APIKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.Get(r.Context(), keyID(r))
	if err != nil {
		errors.Write(w, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, key)
}

func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	issued, err := h.svc.Rotate(r.Context(), actorFrom(r), keyID(r))
	if err != nil {
		errors.Write(w, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, IssuedKeyResponse{APIKey: issued.Key, Key: issued.Secret})
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.Revoke(r.Context(), actorFrom(r), keyID(r))
	if err != nil {
		errors.Write(w, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, key)
}

func keyID(r *http.Request) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName("key_id")
}

func actorFrom(r *http.Request) keys.Actor {
	actor := keys.Actor{IP: clientIP(r)}
	if claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims); ok {
		actor.ID = claims.UserID
	}
	return actor
}

func clientIP(r *http.Request) string {
	ip, _ := r.Context().Value(apiContext.ClientIP).(string)
	return ip
}
