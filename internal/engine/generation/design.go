package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const designSystemPrompt = `You produce design specifications for static graphics.
Reply with a single JSON object and nothing else. The object has "width", "height",
"background", and "elements", an array of shapes and text blocks, each with
"type", "x", "y", and the properties needed to draw it.`

type DesignRequest struct {
	Prompt string
	Width  int
	Height int
	Style  string
}

// DesignSpec asks the chat model for a JSON design description. Replies that
// are not a JSON object count as upstream failures.
func (c *Client) DesignSpec(ctx context.Context, req DesignRequest) (map[string]interface{}, error) {
	var user strings.Builder
	user.WriteString(req.Prompt)
	if req.Width > 0 && req.Height > 0 {
		fmt.Fprintf(&user, "\n\nCanvas: %dx%d pixels.", req.Width, req.Height)
	}
	if req.Style != "" {
		fmt.Fprintf(&user, "\nStyle: %s.", req.Style)
	}

	res, err := c.chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: designSystemPrompt},
			{Role: "user", Content: user.String()},
		},
	}, &responseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	return parseSpec(res.Content)
}

func parseSpec(content string) (map[string]interface{}, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var spec map[string]interface{}
	if err := json.Unmarshal([]byte(text), &spec); err != nil || spec == nil {
		return nil, fmt.Errorf("%w: design spec is not a JSON object", ErrUpstream)
	}
	return spec, nil
}
