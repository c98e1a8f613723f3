package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"zyphon/internal/api/handlers"
	"zyphon/internal/api/middleware"
	"zyphon/internal/engine/generation"
	"zyphon/internal/engine/keys"
	"zyphon/internal/engine/ratelimit"
	"zyphon/internal/platform/audit"
	"zyphon/internal/platform/auth"
	"zyphon/internal/platform/config"
	"zyphon/internal/platform/database"
	"zyphon/internal/platform/models"
	"zyphon/internal/platform/repositories"
	"zyphon/internal/platform/storage"
	"zyphon/internal/platform/tasks"
)

type inlineQueue struct{}

func (inlineQueue) Submit(name string, fn tasks.Func) bool {
	fn(context.Background())
	return true
}

type fakeGenerator struct {
	imageErr error
}

func (g *fakeGenerator) Chat(ctx context.Context, req generation.ChatRequest) (*generation.ChatResult, error) {
	return &generation.ChatResult{Content: "echo: " + req.Messages[len(req.Messages)-1].Content, Model: "test-model"}, nil
}

func (g *fakeGenerator) Image(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
	if g.imageErr != nil {
		return nil, g.imageErr
	}
	return &generation.ImageResult{Data: []byte("png"), ContentType: "image/png"}, nil
}

func (g *fakeGenerator) DesignSpec(ctx context.Context, req generation.DesignRequest) (map[string]interface{}, error) {
	return map[string]interface{}{"width": float64(req.Width), "elements": []interface{}{}}, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(ctx context.Context, req generation.PDFRequest) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []string
}

func (u *fakeUploader) Upload(ctx context.Context, data []byte, filename, contentType string) (*storage.Object, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, filename)
	return &storage.Object{Key: "zyphon/images/" + filename, URL: "https://cdn.test/zyphon/images/" + filename, Size: len(data)}, nil
}

type testServer struct {
	handler  http.Handler
	db       *sql.DB
	keys     *keys.Service
	tokens   *auth.TokenService
	gen      *fakeGenerator
	uploader *fakeUploader
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))

	auditRepo := repositories.NewAuditRepository(db)
	recorder := audit.NewLogger(auditRepo, inlineQueue{}, logger)
	keySvc := keys.NewService(repositories.NewAPIKeyRepository(db), inlineQueue{}, recorder, logger)

	jwtCfg := config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour, Issuer: "zyphon"}
	tokens := auth.NewTokenService(jwtCfg)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), config.RateLimitConfig{Classes: map[string]config.WindowConfig{
		ratelimit.ClassChat:   {MaxRequests: 60, Window: time.Minute},
		ratelimit.ClassImage:  {MaxRequests: 10, Window: time.Hour},
		ratelimit.ClassPDF:    {MaxRequests: 30, Window: time.Hour},
		ratelimit.ClassDesign: {MaxRequests: 20, Window: time.Hour},
	}}, logger)

	gen := &fakeGenerator{}
	uploader := &fakeUploader{}

	router := NewRouter(&Dependencies{
		AuthHandler:    handlers.NewAuthHandler(repositories.NewUserRepository(db), tokens, jwtCfg.AccessTokenTTL, logger),
		APIKeyHandler:  handlers.NewAPIKeyHandler(keySvc),
		AuditHandler:   handlers.NewAuditHandler(auditRepo),
		GatewayHandler: handlers.NewGatewayHandler(gen, fakeRenderer{}, uploader, recorder, 1024, logger),
		HealthHandler:  handlers.NewHealthHandler(map[string]handlers.Pinger{"database": db}),
		MetricsHandler: handlers.NewMetricsHandler(),
		AuthMiddleware: middleware.NewAuthMiddleware(tokens),
		APIKeyAuth:     middleware.NewAPIKeyMiddleware(keySvc, logger),
		RateLimiter:    middleware.NewRateLimiter(limiter, logger),
	})

	return &testServer{handler: router, db: db, keys: keySvc, tokens: tokens, gen: gen, uploader: uploader}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) issue(t *testing.T, scopes ...string) *keys.Issued {
	t.Helper()
	issued, err := s.keys.Create(context.Background(), keys.Actor{ID: "usr_admin"}, "partner", scopes)
	require.NoError(t, err)
	return issued
}

func (s *testServer) adminToken(t *testing.T, role string) string {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken("usr_admin", role, "admin@zyphon.test")
	require.NoError(t, err)
	return token
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func auditRows(t *testing.T, db *sql.DB, action string) []models.AuditEvent {
	t.Helper()
	events, err := repositories.NewAuditRepository(db).List(context.Background(), action, 100)
	require.NoError(t, err)
	out := make([]models.AuditEvent, len(events))
	for i, e := range events {
		out[i] = *e
	}
	return out
}

const imageBody = `{"prompt":"a lighthouse at dusk"}`

func TestGateway_ImageRequiresScope(t *testing.T) {
	s := newTestServer(t)
	chatKey := s.issue(t, keys.ScopeChatWrite)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", chatKey.Secret, imageBody)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.OK)
	assert.Equal(t, "forbidden", env.Error)
	assert.Empty(t, s.uploader.uploads)
}

func TestGateway_ImageRateLimited(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopeImageGenerate)

	for i := 1; i <= 10; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", key.Secret, imageBody)
		require.Equal(t, http.StatusOK, rec.Code, "request %d: %s", i, rec.Body.String())
		assert.Equal(t, fmt.Sprint(10-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", key.Secret, imageBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "rate limit exceeded", decode(t, rec).Error)

	assert.Len(t, s.uploader.uploads, 10)
	assert.Len(t, auditRows(t, s.db, audit.ActionImageGenerated), 10)
}

func TestGateway_ImageSuccessIsAuditedOnce(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopeImageGenerate)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", key.Secret, imageBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data handlers.ImageResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.True(t, strings.HasPrefix(data.URL, "https://cdn.test/zyphon/images/"))
	assert.True(t, strings.HasSuffix(data.URL, ".png"))
	assert.Equal(t, "1024x1024", data.Size)

	events := auditRows(t, s.db, "")
	var generated []models.AuditEvent
	for _, e := range events {
		if e.Action == audit.ActionImageGenerated {
			generated = append(generated, e)
		}
	}
	require.Len(t, generated, 1)
	assert.Equal(t, key.Key.KeyPrefix, generated[0].KeyPrefix)
	assert.Equal(t, "203.0.113.7", generated[0].IPAddress)

	raw, err := json.Marshal(events)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), key.Secret)
	assert.NotContains(t, string(raw), key.Key.KeyHash)
}

func TestGateway_UpstreamFailureIsAudited(t *testing.T) {
	s := newTestServer(t)
	s.gen.imageErr = fmt.Errorf("%w: boom", generation.ErrUpstream)
	key := s.issue(t, keys.ScopeImageGenerate)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", key.Secret, imageBody)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream generation failed", decode(t, rec).Error)
	failed := auditRows(t, s.db, audit.ActionImageFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, float64(http.StatusBadGateway), failed[0].Metadata["status"])
}

func TestGateway_CircuitOpenIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.gen.imageErr = generation.ErrCircuitOpen
	key := s.issue(t, keys.ScopeImageGenerate)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", key.Secret, imageBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, auditRows(t, s.db, audit.ActionImageFailed), 1)
}

func TestGateway_Unauthenticated(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopeChatWrite)
	_, err := s.keys.Revoke(context.Background(), keys.Actor{ID: "usr_admin"}, key.Key.ID)
	require.NoError(t, err)

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	for _, token := range []string{"", "zyp_unknown", key.Secret} {
		rec := s.do(t, http.MethodPost, "/api/v1/zyphon/chat", token, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", decode(t, rec).Error)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/zyphon/chat", strings.NewReader(body))
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateway_ValidationIsAuditedAsRejected(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopeImageGenerate)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", key.Secret, `{"prompt":"x","size":"3x3"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "size must be one of 256x256, 512x512, 1024x1024, 1024x1792, 1792x1024", decode(t, rec).Error)
	assert.Empty(t, auditRows(t, s.db, audit.ActionImageFailed))
	assert.Empty(t, auditRows(t, s.db, audit.ActionImageGenerated))

	rejected := auditRows(t, s.db, audit.ActionImageRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, key.Key.KeyPrefix, rejected[0].KeyPrefix)
	assert.Equal(t, key.Key.ID, rejected[0].Metadata["key_id"])
	assert.Equal(t, float64(http.StatusBadRequest), rejected[0].Metadata["status"])
	assert.Equal(t, "validation", rejected[0].Metadata["error"])
	assert.Equal(t, "size must be one of 256x256, 512x512, 1024x1024, 1024x1792, 1792x1024", rejected[0].Metadata["reason"])
}

func TestGateway_ScopeRejectionIsNotAudited(t *testing.T) {
	s := newTestServer(t)
	chatKey := s.issue(t, keys.ScopeChatWrite)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/image", chatKey.Secret, imageBody)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, auditRows(t, s.db, audit.ActionImageRejected))
}

func TestGateway_Chat(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopeChatWrite)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/chat", key.Secret, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data generation.ChatResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, "echo: hi", data.Content)
	assert.Len(t, auditRows(t, s.db, audit.ActionChatCompleted), 1)
}

func TestGateway_PDF(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopePDFGenerate)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/pdf", key.Secret, `{"html":"<h1>Report</h1>","filename":"report"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data handlers.PDFResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, "report.pdf", data.Filename)
	assert.Equal(t, "application/pdf", data.ContentType)
	assert.Equal(t, 8, data.Size)

	tooBig := `{"html":"` + strings.Repeat("a", 1025) + `"}`
	rec = s.do(t, http.MethodPost, "/api/v1/zyphon/pdf", key.Secret, tooBig)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "html must be at most 1024 bytes", decode(t, rec).Error)
	assert.Len(t, auditRows(t, s.db, audit.ActionPDFRejected), 1)
	assert.Len(t, auditRows(t, s.db, audit.ActionPDFGenerated), 1)
}

func TestGateway_DesignSpecUsesImageScope(t *testing.T) {
	s := newTestServer(t)
	key := s.issue(t, keys.ScopeImageGenerate)

	rec := s.do(t, http.MethodPost, "/api/v1/zyphon/design-spec", key.Secret, `{"prompt":"poster","width":800,"height":600}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data handlers.DesignSpecResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, float64(800), data.Spec["width"])
	assert.Len(t, auditRows(t, s.db, audit.ActionDesignSpecGenerated), 1)
}

func TestAdmin_KeyLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.adminToken(t, models.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/keys", token, `{"name":"partner","scopes":["chat:write"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID        string   `json:"id"`
		KeyPrefix string   `json:"key_prefix"`
		Scopes    []string `json:"scopes"`
		Key       string   `json:"key"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.True(t, strings.HasPrefix(created.Key, created.KeyPrefix))
	assert.NotContains(t, rec.Body.String(), "key_hash")

	rec = s.do(t, http.MethodGet, "/api/v1/admin/keys/"+created.ID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Key)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/keys/"+created.ID+"/rotate", token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated struct {
		ID          string `json:"id"`
		Key         string `json:"key"`
		RotatedFrom string `json:"rotated_from"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &rotated))
	assert.Equal(t, created.ID, rotated.RotatedFrom)

	chat := `{"messages":[{"role":"user","content":"hi"}]}`
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/v1/zyphon/chat", created.Key, chat).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/zyphon/chat", rotated.Key, chat).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/keys/"+created.ID+"/revoke", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/keys/"+rotated.ID+"/revoke", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/admin/keys/"+rotated.ID+"/revoke", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "api key already revoked", decode(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/keys/key_missing", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/audit?action=key.rotated", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.AuditEvent
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "usr_admin", events[0].ActorID)
	assert.Equal(t, created.KeyPrefix, events[0].Metadata["old_prefix"])
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/admin/keys", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/keys", s.adminToken(t, "member"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	key := s.issue(t, keys.ScopeChatWrite)
	rec = s.do(t, http.MethodGet, "/api/v1/admin/keys", key.Secret, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_Login(t *testing.T) {
	s := newTestServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, repositories.NewUserRepository(s.db).Create(context.Background(), &models.User{
		ID: "usr_admin", Email: "admin@zyphon.test", PasswordHash: string(hash), Role: models.RoleAdmin,
		CreatedAt: 1, UpdatedAt: 1,
	}))

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"email":"admin@zyphon.test","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"email":"Admin@Zyphon.test","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login handlers.LoginResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &login))
	assert.Equal(t, "Bearer", login.TokenType)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/keys", login.AccessToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).OK)

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("zyphon_http_requests_total")))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decode(t, rec).OK)
}
