package middlewares_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/middlewares"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/session"
)

type fakeSessionStore struct {
	sessions map[string]*model.Session
	revoked  map[string]bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.Session), revoked: make(map[string]bool)}
}

func (f *fakeSessionStore) InsertSession(ctx context.Context, s *model.Session) error {
	f.sessions[s.ID] = s

	return nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeSessionStore) SetAdminElevation(ctx context.Context, sessionID string, until time.Time) error {
	return nil
}

func (f *fakeSessionStore) RevokeSession(ctx context.Context, sessionID string, until time.Time) error {
	f.revoked[sessionID] = true

	return nil
}

func (f *fakeSessionStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	return f.revoked[sessionID], nil
}

func newTestProviders() (middlewares.Providers, *fakeSessionStore) {
	store := newFakeSessionStore()
	sessions := session.NewManager(store, []byte("a-test-signing-secret"), time.Hour, 10*time.Minute, "defguard_session", "", false)

	return middlewares.Providers{Sessions: sessions}, store
}

func newRequestCtxWithCookie(name, value string) *fasthttp.RequestCtx {
	reqCtx := &fasthttp.RequestCtx{}
	if value != "" {
		reqCtx.Request.Header.SetCookie(name, value)
	}

	return reqCtx
}

func TestRequireSessionRejectsMissingCookie(t *testing.T) {
	providers, _ := newTestProviders()
	config := schema.Configuration{}

	var called bool

	handler := middlewares.RequireSession(func(ctx *middlewares.DefguardCtx) { called = true })
	mw := middlewares.DefguardMiddleware(config, providers)(handler)

	reqCtx := newRequestCtxWithCookie("defguard_session", "")
	mw(reqCtx)

	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusUnauthorized, reqCtx.Response.StatusCode())
}

func TestRequireSessionAcceptsValidCookie(t *testing.T) {
	providers, _ := newTestProviders()
	config := schema.Configuration{}

	cookie, _, err := providers.Sessions.Create(context.Background(), 7, true, "", "")
	require.NoError(t, err)

	var resolvedUserID int64

	handler := middlewares.RequireSession(func(ctx *middlewares.DefguardCtx) { resolvedUserID = ctx.Session.UserID })
	mw := middlewares.DefguardMiddleware(config, providers)(handler)

	reqCtx := newRequestCtxWithCookie("defguard_session", cookie)
	mw(reqCtx)

	assert.Equal(t, int64(7), resolvedUserID)
}

func TestRequireMFAVerifiedRejectsUnverifiedSession(t *testing.T) {
	providers, _ := newTestProviders()
	config := schema.Configuration{}

	cookie, _, err := providers.Sessions.Create(context.Background(), 7, false, "", "")
	require.NoError(t, err)

	var called bool

	handler := middlewares.RequireMFAVerified(func(ctx *middlewares.DefguardCtx) { called = true })
	mw := middlewares.DefguardMiddleware(config, providers)(handler)

	reqCtx := newRequestCtxWithCookie("defguard_session", cookie)
	mw(reqCtx)

	assert.False(t, called)
}

func TestReplyErrorMapsKnownKindsToStatusCodes(t *testing.T) {
	reqCtx := &fasthttp.RequestCtx{}
	ctx := &middlewares.DefguardCtx{RequestCtx: reqCtx}

	ctx.ReplyError(apperrors.ErrCredentialInvalid)
	assert.Equal(t, fasthttp.StatusUnauthorized, reqCtx.Response.StatusCode())

	reqCtx2 := &fasthttp.RequestCtx{}
	ctx2 := &middlewares.DefguardCtx{RequestCtx: reqCtx2}
	ctx2.ReplyError(apperrors.ErrTokenExpired)
	assert.Equal(t, fasthttp.StatusGone, reqCtx2.Response.StatusCode())
}
