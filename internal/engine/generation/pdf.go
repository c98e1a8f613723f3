package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"zyphon/internal/platform/config"
)

const maxPDFBytes = 64 << 20

type PDFRequest struct {
	HTML     string `json:"html"`
	PageSize string `json:"page_size"`
}

// PDFRenderer posts HTML to a rendering service and reads back the PDF.
type PDFRenderer struct {
	http    *http.Client
	url     string
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func NewPDFRenderer(cfg config.PDFConfig, breaker config.BreakerConfig, logger zerolog.Logger) *PDFRenderer {
	logger = logger.With().Str("component", "pdf-renderer").Logger()
	return &PDFRenderer{
		http:    &http.Client{Timeout: cfg.Timeout},
		url:     cfg.RendererURL,
		breaker: newBreaker("pdf", breaker, logger),
		logger:  logger,
	}
}

func (p *PDFRenderer) Render(ctx context.Context, req PDFRequest) ([]byte, error) {
	if p.url == "" {
		return nil, fmt.Errorf("%w: pdf renderer is not configured", ErrUpstream)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	return guard(p.breaker, func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/pdf")

		resp, err := p.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			p.logger.Warn().Int("status", resp.StatusCode).Msg("renderer returned an error")
			return nil, fmt.Errorf("%w: renderer returned %d", ErrUpstream, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/pdf") {
			return nil, fmt.Errorf("%w: renderer returned %s", ErrUpstream, ct)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: read pdf: %v", ErrUpstream, err)
		}
		if len(data) > maxPDFBytes {
			return nil, fmt.Errorf("%w: pdf exceeds %d bytes", ErrUpstream, maxPDFBytes)
		}
		if !bytes.HasPrefix(data, []byte("%PDF")) {
			return nil, fmt.Errorf("%w: renderer output is not a pdf", ErrUpstream)
		}
		return data, nil
	})
}
