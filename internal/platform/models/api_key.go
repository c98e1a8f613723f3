package models

// APIKey is a scoped, revocable credential. The raw secret is never stored.
type APIKey struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	KeyHash     string   `json:"-"`
	KeyPrefix   string   `json:"key_prefix"`
	Scopes      []string `json:"scopes"` // JSON array in DB
	Active      bool     `json:"active"`
	CreatedBy   string   `json:"created_by"`
	RotatedFrom *string  `json:"rotated_from,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	RevokedAt   *int64   `json:"revoked_at,omitempty"`
	LastUsedAt  *int64   `json:"last_used_at,omitempty"`
}

// Revoked reports whether the key can no longer authenticate.
func (k *APIKey) Revoked() bool {
	return !k.Active || k.RevokedAt != nil
}
