package models

// AuditEvent is an append-only record of a privileged action.
type AuditEvent struct {
	ID        string                 `json:"id"`
	Action    string                 `json:"action"`
	KeyPrefix string                 `json:"key_prefix,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"` // JSON object in DB
	CreatedAt int64                  `json:"created_at"`
}
