package keys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	apperrors "zyphon/internal/pkg/errors"
	"zyphon/internal/platform/audit"
	"zyphon/internal/platform/models"
	"zyphon/internal/platform/repositories"
	"zyphon/internal/platform/tasks"
)

// Rejection reasons reported by Verify.
const (
	ReasonMissingToken = "missing_token"
	ReasonNotFound     = "not_found"
	ReasonRevoked      = "revoked"
)

const maxNameLength = 100

var (
	ErrNotFound = apperrors.New(apperrors.KindNotFound, "api key not found")
	ErrConflict = apperrors.New(apperrors.KindConflict, "api key already revoked")
)

// Store is the persistence the service needs. *repositories.APIKeyRepository
// satisfies it.
type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*models.APIKey, error)
	List(ctx context.Context, limit, offset int) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id string, at int64) error
	Rotate(ctx context.Context, oldID string, next *models.APIKey, at int64) error
	UpdateLastUsed(ctx context.Context, id string, at int64) error
}

type Submitter interface {
	Submit(name string, fn tasks.Func) bool
}

// Actor is the administrator performing a lifecycle change.
type Actor struct {
	ID string
	IP string
}

// Issued carries a key together with its raw secret. It exists only in the
// create and rotate responses.
type Issued struct {
	Key    *models.APIKey
	Secret string
}

type Verification struct {
	Valid  bool
	Key    *models.APIKey
	Reason string
}

type Service struct {
	store  Store
	queue  Submitter
	audit  audit.Recorder
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, queue Submitter, recorder audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		audit:  recorder,
		logger: logger.With().Str("component", "keys").Logger(),
		now:    time.Now,
	}
}

func (s *Service) Create(ctx context.Context, actor Actor, name string, scopes []string) (*Issued, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.KindValidation, "name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperrors.New(apperrors.KindValidation, "name must be at most 100 characters")
	}

	scopes, err := normalizeScopes(scopes)
	if err != nil {
		return nil, err
	}

	key, raw, err := s.newKey(name, scopes, actor.ID)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, key); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "create api key", err)
	}

	s.audit.Log(ctx, audit.Entry{
		Action:    audit.ActionKeyCreated,
		KeyPrefix: key.KeyPrefix,
		ActorID:   actor.ID,
		IPAddress: actor.IP,
		Metadata: map[string]interface{}{
			"key_id": key.ID,
			"name":   key.Name,
			"scopes": key.Scopes,
		},
	})

	return &Issued{Key: key, Secret: raw}, nil
}

// Rotate replaces an active key with a new one that has the same name and
// scopes. The old key is revoked in the same transaction.
func (s *Service) Rotate(ctx context.Context, actor Actor, id string) (*Issued, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Revoked() {
		return nil, ErrConflict
	}

	next, raw, err := s.newKey(old.Name, old.Scopes, actor.ID)
	if err != nil {
		return nil, err
	}

	at := s.now().Unix()
	if err := s.store.Rotate(ctx, old.ID, next, at); err != nil {
		if errors.Is(err, repositories.ErrKeyNotActive) {
			return nil, ErrConflict
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "rotate api key", err)
	}

	s.audit.Log(ctx, audit.Entry{
		Action:    audit.ActionKeyRotated,
		KeyPrefix: next.KeyPrefix,
		ActorID:   actor.ID,
		IPAddress: actor.IP,
		Metadata: map[string]interface{}{
			"old_key_id": old.ID,
			"new_key_id": next.ID,
			"old_prefix": old.KeyPrefix,
			"new_prefix": next.KeyPrefix,
		},
	})

	return &Issued{Key: next, Secret: raw}, nil
}

// Revoke deactivates a key. Revoking twice is a conflict.
func (s *Service) Revoke(ctx context.Context, actor Actor, id string) (*models.APIKey, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.Revoked() {
		return nil, ErrConflict
	}

	at := s.now().Unix()
	if err := s.store.Revoke(ctx, key.ID, at); err != nil {
		if errors.Is(err, repositories.ErrKeyNotActive) {
			return nil, ErrConflict
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "revoke api key", err)
	}
	key.Active = false
	key.RevokedAt = &at

	s.audit.Log(ctx, audit.Entry{
		Action:    audit.ActionKeyRevoked,
		KeyPrefix: key.KeyPrefix,
		ActorID:   actor.ID,
		IPAddress: actor.IP,
		Metadata:  map[string]interface{}{"key_id": key.ID},
	})

	return key, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.APIKey, error) {
	key, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "load api key", err)
	}
	if key == nil {
		return nil, ErrNotFound
	}
	return key, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.APIKey, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	keys, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "list api keys", err)
	}
	return keys, nil
}

// Verify resolves a presented secret to an active key. A rejected secret is
// reported through Verification.Reason; err is set only when the store fails.
func (s *Service) Verify(ctx context.Context, presented string) (Verification, error) {
	if presented == "" {
		return Verification{Reason: ReasonMissingToken}, nil
	}

	hash := hashSecret(presented)
	key, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		return Verification{}, apperrors.Wrap(apperrors.KindInternal, "look up api key", err)
	}
	if key == nil || !hashesEqual(key.KeyHash, hash) {
		return Verification{Reason: ReasonNotFound}, nil
	}
	if key.Revoked() {
		return Verification{Key: key, Reason: ReasonRevoked}, nil
	}

	s.touch(key)

	return Verification{Valid: true, Key: key}, nil
}

func (s *Service) touch(key *models.APIKey) {
	id := key.ID
	at := s.now().Unix()
	s.queue.Submit("keys.last_used", func(ctx context.Context) error {
		return s.store.UpdateLastUsed(ctx, id, at)
	})
}

func (s *Service) newKey(name string, scopes []string, createdBy string) (*models.APIKey, string, error) {
	raw, prefix, hash, err := generateSecret()
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindInternal, "generate api key", err)
	}

	return &models.APIKey{
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    append([]string(nil), scopes...),
		CreatedBy: createdBy,
		CreatedAt: s.now().Unix(),
	}, raw, nil
}
