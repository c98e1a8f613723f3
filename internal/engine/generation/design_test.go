package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DesignSpec(t *testing.T) {
	srv := chatServer(t, `{"width":800,"height":600,"elements":[]}`)
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zerolog.Nop())
	spec, err := c.DesignSpec(context.Background(), DesignRequest{Prompt: "poster", Width: 800, Height: 600})
	require.NoError(t, err)

	assert.Equal(t, float64(800), spec["width"])
	assert.Contains(t, spec, "elements")
}

func TestClient_DesignSpecRejectsNonObject(t *testing.T) {
	srv := chatServer(t, "Sure! Here is your design.")
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zerolog.Nop())
	_, err := c.DesignSpec(context.Background(), DesignRequest{Prompt: "poster"})
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"object", `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", false},
		{"array", `[1,2]`, true},
		{"null", `null`, true},
		{"text", `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSpec(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
