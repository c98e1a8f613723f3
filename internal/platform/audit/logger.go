package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"zyphon/internal/platform/models"
	"zyphon/internal/platform/tasks"
)

const (
	ActionKeyCreated = "key.created"
	ActionKeyRotated = "key.rotated"
	ActionKeyRevoked = "key.revoked"

	ActionChatCompleted       = "chat.completed"
	ActionChatFailed          = "chat.failed"
	ActionChatRejected        = "chat.rejected"
	ActionImageGenerated      = "image.generated"
	ActionImageFailed         = "image.failed"
	ActionImageRejected       = "image.rejected"
	ActionPDFGenerated        = "pdf.generated"
	ActionPDFFailed           = "pdf.failed"
	ActionPDFRejected         = "pdf.rejected"
	ActionDesignSpecGenerated = "design_spec.generated"
	ActionDesignSpecFailed    = "design_spec.failed"
	ActionDesignSpecRejected  = "design_spec.rejected"
)

var auditEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zyphon_audit_events_total",
		Help: "Audit events handed to the writer, by action",
	},
	[]string{"action"},
)

// Entry is what callers hand to the logger. Never put a raw secret or key
// hash in any field.
type Entry struct {
	Action    string
	KeyPrefix string
	ActorID   string
	IPAddress string
	Metadata  map[string]interface{}
}

// Recorder accepts audit entries without blocking and without failing.
type Recorder interface {
	Log(ctx context.Context, e Entry)
}

type Store interface {
	Insert(ctx context.Context, e *models.AuditEvent) error
}

type Submitter interface {
	Submit(name string, fn tasks.Func) bool
}

// Logger writes audit events through the background queue. Write failures
// end up in the operator log, never in the caller's response.
type Logger struct {
	store  Store
	queue  Submitter
	logger zerolog.Logger
	now    func() time.Time
}

func NewLogger(store Store, queue Submitter, logger zerolog.Logger) *Logger {
	return &Logger{
		store:  store,
		queue:  queue,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

func (l *Logger) Log(ctx context.Context, e Entry) {
	event := &models.AuditEvent{
		ID:        "audit_" + uuid.New().String(),
		Action:    e.Action,
		KeyPrefix: e.KeyPrefix,
		ActorID:   e.ActorID,
		IPAddress: e.IPAddress,
		Metadata:  copyMetadata(e.Metadata),
		CreatedAt: l.now().Unix(),
	}
	auditEventsTotal.WithLabelValues(e.Action).Inc()

	accepted := l.queue.Submit("audit."+e.Action, func(ctx context.Context) error {
		return l.store.Insert(ctx, event)
	})
	if !accepted {
		l.logger.Error().
			Str("action", event.Action).
			Str("key_prefix", event.KeyPrefix).
			Str("audit_id", event.ID).
			Msg("audit event dropped")
	}
}

// copyMetadata detaches the event from maps the caller may keep mutating.
func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
