package handlers

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apiContext "zyphon/internal/api/context"
	"zyphon/internal/engine/generation"
	"zyphon/internal/pkg/errors"
	"zyphon/internal/pkg/validator"
	"zyphon/internal/platform/audit"
	"zyphon/internal/platform/models"
	"zyphon/internal/platform/storage"
)

const maxJSONBody = 1 << 20

type Generator interface {
	Chat(ctx context.Context, req generation.ChatRequest) (*generation.ChatResult, error)
	Image(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error)
	DesignSpec(ctx context.Context, req generation.DesignRequest) (map[string]interface{}, error)
}

type Renderer interface {
	Render(ctx context.Context, req generation.PDFRequest) ([]byte, error)
}

type capability struct {
	name      string
	succeeded string
	failed    string
	rejected  string
}

var (
	capChat   = capability{"chat", audit.ActionChatCompleted, audit.ActionChatFailed, audit.ActionChatRejected}
	capImage  = capability{"image", audit.ActionImageGenerated, audit.ActionImageFailed, audit.ActionImageRejected}
	capPDF    = capability{"pdf", audit.ActionPDFGenerated, audit.ActionPDFFailed, audit.ActionPDFRejected}
	capDesign = capability{"design_spec", audit.ActionDesignSpecGenerated, audit.ActionDesignSpecFailed, audit.ActionDesignSpecRejected}
)

// GatewayHandler serves the generation endpoints for API key callers.
// Authentication, scope and rate limit checks have already run.
type GatewayHandler struct {
	gen          Generator
	pdf          Renderer
	uploader     storage.Uploader
	audit        audit.Recorder
	maxHTMLBytes int
	logger       zerolog.Logger
}

func NewGatewayHandler(gen Generator, pdf Renderer, uploader storage.Uploader, recorder audit.Recorder, maxHTMLBytes int, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{
		gen:          gen,
		pdf:          pdf,
		uploader:     uploader,
		audit:        recorder,
		maxHTMLBytes: maxHTMLBytes,
		logger:       logger.With().Str("component", "gateway").Logger(),
	}
}

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,max=32000"`
}

type ChatRequest struct {
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	Model       string        `json:"model" validate:"omitempty,max=100"`
	MaxTokens   int           `json:"max_tokens" validate:"omitempty,gte=1,lte=16384"`
	Temperature *float64      `json:"temperature" validate:"omitempty,gte=0,lte=2"`
}

func (h *GatewayHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, capChat, maxJSONBody, &req) {
		return
	}

	msgs := make([]generation.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = generation.Message{Role: m.Role, Content: m.Content}
	}

	start := time.Now()
	res, err := h.gen.Chat(detach(r), generation.ChatRequest{
		Messages:    msgs,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	meta := map[string]interface{}{"messages": len(req.Messages)}
	if err != nil {
		h.fail(w, r, capChat, start, err, meta)
		return
	}

	meta["model"] = res.Model
	meta["total_tokens"] = res.Usage.TotalTokens
	h.succeed(w, r, capChat, start, meta, res)
}

type ImageRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	Size   string `json:"size" validate:"omitempty,oneof=256x256 512x512 1024x1024 1024x1792 1792x1024"`
	Format string `json:"format" validate:"omitempty,oneof=png jpeg webp"`
}

type ImageResponse struct {
	URL    string `json:"url"`
	Size   string `json:"size"`
	Format string `json:"format"`
}

func (h *GatewayHandler) Image(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if !h.decode(w, r, capImage, maxJSONBody, &req) {
		return
	}
	if req.Size == "" {
		req.Size = "1024x1024"
	}
	if req.Format == "" {
		req.Format = "png"
	}

	meta := map[string]interface{}{"size": req.Size, "format": req.Format, "prompt_length": len(req.Prompt)}
	ctx := detach(r)
	start := time.Now()

	img, err := h.gen.Image(ctx, generation.ImageRequest{Prompt: req.Prompt, Size: req.Size, Format: req.Format})
	if err != nil {
		h.fail(w, r, capImage, start, err, meta)
		return
	}

	obj, err := h.uploader.Upload(ctx, img.Data, uuid.New().String()+"."+req.Format, img.ContentType)
	if err != nil {
		h.fail(w, r, capImage, start, errors.Wrap(errors.KindUpstream, "image storage failed", err), meta)
		return
	}

	meta["url"] = obj.URL
	meta["bytes"] = obj.Size
	h.succeed(w, r, capImage, start, meta, ImageResponse{URL: obj.URL, Size: req.Size, Format: req.Format})
}

type PDFRequest struct {
	HTML     string `json:"html" validate:"required"`
	Filename string `json:"filename" validate:"omitempty,max=200,excludesall=/\\"`
	PageSize string `json:"page_size" validate:"omitempty,oneof=A4 Letter Legal"`
}

type PDFResponse struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	Size          int    `json:"size"`
	ContentBase64 string `json:"content_base64"`
}

func (h *GatewayHandler) PDF(w http.ResponseWriter, r *http.Request) {
	var req PDFRequest
	// html is JSON-escaped in the body, so allow room above the html ceiling
	if !h.decode(w, r, capPDF, int64(h.maxHTMLBytes)*2+64<<10, &req) {
		return
	}
	if len(req.HTML) > h.maxHTMLBytes {
		h.reject(w, r, capPDF, errors.New(errors.KindValidation, fmt.Sprintf("html must be at most %d bytes", h.maxHTMLBytes)))
		return
	}
	if req.PageSize == "" {
		req.PageSize = "A4"
	}
	filename := pdfFilename(req.Filename)

	meta := map[string]interface{}{"page_size": req.PageSize, "html_bytes": len(req.HTML), "filename": filename}
	start := time.Now()

	data, err := h.pdf.Render(detach(r), generation.PDFRequest{HTML: req.HTML, PageSize: req.PageSize})
	if err != nil {
		h.fail(w, r, capPDF, start, err, meta)
		return
	}

	meta["bytes"] = len(data)
	h.succeed(w, r, capPDF, start, meta, PDFResponse{
		Filename:      filename,
		ContentType:   "application/pdf",
		Size:          len(data),
		ContentBase64: base64.StdEncoding.EncodeToString(data),
	})
}

func pdfFilename(name string) string {
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." {
		name = "document"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

type DesignSpecRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	Width  int    `json:"width" validate:"omitempty,gte=16,lte=4096"`
	Height int    `json:"height" validate:"omitempty,gte=16,lte=4096"`
	Style  string `json:"style" validate:"omitempty,max=100"`
}

type DesignSpecResponse struct {
	Spec map[string]interface{} `json:"spec"`
}

func (h *GatewayHandler) DesignSpec(w http.ResponseWriter, r *http.Request) {
	var req DesignSpecRequest
	if !h.decode(w, r, capDesign, maxJSONBody, &req) {
		return
	}

	meta := map[string]interface{}{"width": req.Width, "height": req.Height, "style": req.Style}
	start := time.Now()

	spec, err := h.gen.DesignSpec(detach(r), generation.DesignRequest{
		Prompt: req.Prompt,
		Width:  req.Width,
		Height: req.Height,
		Style:  req.Style,
	})
	if err != nil {
		h.fail(w, r, capDesign, start, err, meta)
		return
	}

	h.succeed(w, r, capDesign, start, meta, DesignSpecResponse{Spec: spec})
}

// detach keeps the upstream call alive when the caller disconnects so the
// outcome is still recorded.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *GatewayHandler) decode(w http.ResponseWriter, r *http.Request, c capability, limit int64, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := validator.Decode(r, v); err != nil {
		h.reject(w, r, c, err)
		return false
	}
	return true
}

// reject answers an authenticated request whose body failed validation. It
// never reaches the upstream but is audited as *.rejected.
func (h *GatewayHandler) reject(w http.ResponseWriter, r *http.Request, c capability, err error) {
	kind := errors.KindOf(err)
	h.record(r, c.rejected, map[string]interface{}{
		"status": kind.Status(),
		"error":  kind.String(),
		"reason": rejectReason(err),
	})

	h.logger.Warn().
		Str("capability", c.name).
		Str("key_prefix", keyPrefix(r)).
		Str("ip", clientIP(r)).
		Str("error", err.Error()).
		Msg("gateway request rejected")
	errors.Write(w, err)
}

func (h *GatewayHandler) fail(w http.ResponseWriter, r *http.Request, c capability, start time.Time, err error, meta map[string]interface{}) {
	kind := errors.KindOf(err)
	if kind == errors.KindInternal {
		err = errors.Wrap(errors.KindUpstream, "upstream generation failed", err)
		kind = errors.KindUpstream
	}
	status := kind.Status()
	elapsed := time.Since(start)

	meta["status"] = status
	meta["error"] = kind.String()
	meta["duration_ms"] = elapsed.Milliseconds()
	h.record(r, c.failed, meta)

	h.logger.Warn().
		Err(err).
		Str("capability", c.name).
		Str("key_prefix", keyPrefix(r)).
		Str("ip", clientIP(r)).
		Int("status", status).
		Dur("duration", elapsed).
		Msg("gateway request failed")

	errors.Write(w, err)
}

func (h *GatewayHandler) succeed(w http.ResponseWriter, r *http.Request, c capability, start time.Time, meta map[string]interface{}, data interface{}) {
	elapsed := time.Since(start)

	meta["status"] = http.StatusOK
	meta["duration_ms"] = elapsed.Milliseconds()
	h.record(r, c.succeeded, meta)

	h.logger.Info().
		Str("capability", c.name).
		Str("key_prefix", keyPrefix(r)).
		Str("ip", clientIP(r)).
		Int("status", http.StatusOK).
		Dur("duration", elapsed).
		Msg("gateway request served")

	errors.WriteJSON(w, http.StatusOK, data)
}

func (h *GatewayHandler) record(r *http.Request, action string, meta map[string]interface{}) {
	entry := audit.Entry{
		Action:    action,
		IPAddress: clientIP(r),
		Metadata:  meta,
	}
	if key := apiKey(r); key != nil {
		entry.KeyPrefix = key.KeyPrefix
		entry.Metadata["key_id"] = key.ID
	}
	h.audit.Log(r.Context(), entry)
}

// rejectReason is the caller-facing message, never the wrapped cause.
func rejectReason(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind != errors.KindInternal {
		return e.Message
	}
	return "internal error"
}

func apiKey(r *http.Request) *models.APIKey {
	key, _ := r.Context().Value(apiContext.APIKey).(*models.APIKey)
	return key
}

func keyPrefix(r *http.Request) string {
	if key := apiKey(r); key != nil {
		return key.KeyPrefix
	}
	return ""
}
