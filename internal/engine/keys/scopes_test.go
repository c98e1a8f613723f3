package keys

import (
	"testing"

	"zyphon/internal/platform/models"
)

func TestHasScope(t *testing.T) {
	key := &models.APIKey{Scopes: []string{ScopeChatWrite}}

	tests := []struct {
		scope string
		want  bool
	}{
		{ScopeChatWrite, true},
		{ScopeImageGenerate, false},
		{"CHAT:WRITE", false},
		{"chat", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := HasScope(key, tt.scope); got != tt.want {
			t.Errorf("HasScope(%q) = %v, want %v", tt.scope, got, tt.want)
		}
	}

	if HasScope(nil, ScopeChatWrite) {
		t.Error("nil key must not have scopes")
	}
}

func TestGenerateSecret(t *testing.T) {
	raw, prefix, hash, err := generateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if prefix != raw[:12] {
		t.Errorf("prefix = %q, want %q", prefix, raw[:12])
	}
	if hash != hashSecret(raw) || len(hash) != 64 {
		t.Errorf("unexpected hash %q", hash)
	}

	other, _, _, _ := generateSecret()
	if other == raw {
		t.Error("two generated secrets were equal")
	}
}
