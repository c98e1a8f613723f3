package keys

import (
	"fmt"

	apperrors "zyphon/internal/pkg/errors"
	"zyphon/internal/platform/models"
)

const (
	ScopeChatWrite     = "chat:write"
	ScopeImageGenerate = "image:generate"
	ScopePDFGenerate   = "pdf:generate"
)

var knownScopes = map[string]bool{
	ScopeChatWrite:     true,
	ScopeImageGenerate: true,
	ScopePDFGenerate:   true,
}

// HasScope reports whether key was granted exactly scope. There are no
// wildcards and no hierarchy.
func HasScope(key *models.APIKey, scope string) bool {
	if key == nil {
		return false
	}
	for _, s := range key.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// normalizeScopes rejects unknown scopes and drops duplicates, keeping order.
func normalizeScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "at least one scope is required")
	}

	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !knownScopes[s] {
			return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown scope %q", s))
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
