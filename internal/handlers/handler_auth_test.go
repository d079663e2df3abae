package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/crypto/envelope"
	"github.com/defguard/defguard-core/internal/crypto/password"
	"github.com/defguard/defguard-core/internal/handlers"
	"github.com/defguard/defguard-core/internal/mfa"
	"github.com/defguard/defguard-core/internal/middlewares"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/notification"
	"github.com/defguard/defguard-core/internal/regulation"
	"github.com/defguard/defguard-core/internal/session"
	"github.com/defguard/defguard-core/internal/storage"
	"github.com/defguard/defguard-core/internal/storage/migrations"
)

func newTestProvider(t *testing.T) *storage.Provider {
	t.Helper()

	p, err := storage.Open(&schema.StorageConfiguration{
		Driver: "sqlite",
		SQLite: &schema.SQLiteStorageConfiguration{Path: "file::memory:?cache=shared"},
	})
	require.NoError(t, err)

	require.NoError(t, migrations.Apply(context.Background(), p.DB()))

	t.Cleanup(func() { _ = p.Close() })

	return p
}

// insertTestUser writes a row directly into the users table, bypassing the
// service layer since storage.Provider exposes no InsertUser (users only ever
// arrive via enrollment or an LDAP lookup in this core).
func insertTestUser(t *testing.T, p *storage.Provider, id int64, username, plainPassword string, mfaEnabled bool, method model.MFAMethod) {
	t.Helper()

	hash, err := password.Hash(plainPassword)
	require.NoError(t, err)

	now := time.Now().UTC()

	_, err = p.DB().Exec(`
		INSERT INTO users
			(id, username, email, password_hash, is_active, mfa_enabled, mfa_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, username, username+"@example.com", hash, true, mfaEnabled, string(method), now, now)
	require.NoError(t, err)
}

func testConfiguration() schema.Configuration {
	return schema.Configuration{
		Admin: schema.AdminConfiguration{GroupName: "admins"},
		Session: schema.SessionConfiguration{
			Name:                   "defguard_session",
			Lifetime:               time.Hour,
			AdminElevationDuration: 10 * time.Minute,
			PreAuthLifetime:        5 * time.Minute,
		},
		Regulation: schema.RegulationConfiguration{
			MaxRetries: 3,
			FindTime:   time.Minute,
			BanTime:    time.Hour,
		},
	}
}

func newTestProviders(t *testing.T, p *storage.Provider) middlewares.Providers {
	t.Helper()

	sealer, err := envelope.NewSealer("a-32-byte-long-test-secret-key!!")
	require.NoError(t, err)

	cfg := testConfiguration()

	sessions := session.NewManager(p, []byte("a-test-signing-secret"), cfg.Session.Lifetime,
		cfg.Session.AdminElevationDuration, cfg.Session.Name, cfg.Session.Domain, cfg.Session.CookieInsecure)

	regulator := regulation.New(p, cfg.Regulation)

	preauth := mfa.NewPreAuthStore(cfg.Session.PreAuthLifetime)
	machine := mfa.NewMachine(preauth, p, regulator, notification.LogDispatcher{}, sealer, 6, 30)

	return middlewares.Providers{
		Storage:   p,
		Sessions:  sessions,
		Regulator: regulator,
		MFA:       machine,
	}
}

func newTestCtx(providers middlewares.Providers, cfg schema.Configuration) *middlewares.DefguardCtx {
	return &middlewares.DefguardCtx{
		RequestCtx:    &fasthttp.RequestCtx{},
		Providers:     providers,
		Configuration: cfg,
	}
}

func TestHealthGetReturnsOK(t *testing.T) {
	ctx := newTestCtx(middlewares.Providers{}, schema.Configuration{})

	handlers.HealthGet(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestFirstFactorPostCompletesLoginWithoutMFA(t *testing.T) {
	p := newTestProvider(t)
	insertTestUser(t, p, 1, "alice", "correct-horse-battery-staple", false, model.MFAMethodNone)

	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Request.SetBody([]byte(`{"username":"alice","password":"correct-horse-battery-staple"}`))

	handlers.FirstFactorPost(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"username":"alice"`)
	assert.NotEmpty(t, ctx.Response.Header.Peek("Set-Cookie"))
}

func TestFirstFactorPostRequiresMFAWhenEnabled(t *testing.T) {
	p := newTestProvider(t)
	insertTestUser(t, p, 2, "bob", "correct-horse-battery-staple", true, model.MFAMethodTOTP)

	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Request.SetBody([]byte(`{"username":"bob","password":"correct-horse-battery-staple"}`))

	handlers.FirstFactorPost(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"pre_auth_token"`)
	assert.Contains(t, string(ctx.Response.Body()), `"mfa_method":"totp"`)
	assert.Empty(t, ctx.Response.Header.Peek("Set-Cookie"))
}

func TestFirstFactorPostRejectsWrongPassword(t *testing.T) {
	p := newTestProvider(t)
	insertTestUser(t, p, 3, "carol", "correct-horse-battery-staple", false, model.MFAMethodNone)

	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Request.SetBody([]byte(`{"username":"carol","password":"wrong-password"}`))

	handlers.FirstFactorPost(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestFirstFactorPostRejectsUnknownUserInConstantTime(t *testing.T) {
	p := newTestProvider(t)
	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Request.SetBody([]byte(`{"username":"nobody","password":"whatever"}`))

	handlers.FirstFactorPost(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestLogoutPostClearsCookieAndRevokesSession(t *testing.T) {
	p := newTestProvider(t)
	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	cookie, s, err := providers.Sessions.Create(context.Background(), 1, true, "", "")
	require.NoError(t, err)

	ctx := newTestCtx(providers, cfg)
	ctx.Request.Header.SetCookie(cfg.Session.Name, cookie)

	handlers.LogoutPost(ctx)

	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())

	revoked, err := p.IsRevoked(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestUserInfoGetReturnsUser(t *testing.T) {
	p := newTestProvider(t)
	insertTestUser(t, p, 4, "dave", "correct-horse-battery-staple", false, model.MFAMethodNone)

	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Session = &model.Session{UserID: 4}

	handlers.UserInfoGet(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"username":"dave"`)
}

func TestAdminElevatePostRejectsNonAdmin(t *testing.T) {
	p := newTestProvider(t)
	insertTestUser(t, p, 5, "erin", "correct-horse-battery-staple", true, model.MFAMethodTOTP)

	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Session = &model.Session{UserID: 5, MFAVerified: true}

	handlers.AdminElevatePost(ctx)

	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestAdminElevatePostElevatesGroupMember(t *testing.T) {
	p := newTestProvider(t)
	insertTestUser(t, p, 6, "frank", "correct-horse-battery-staple", true, model.MFAMethodTOTP)
	require.NoError(t, p.SetUserGroups(context.Background(), 6, []string{"admins"}))

	providers := newTestProviders(t, p)
	cfg := testConfiguration()

	ctx := newTestCtx(providers, cfg)
	ctx.Session = &model.Session{UserID: 6, MFAVerified: true}

	handlers.AdminElevatePost(ctx)

	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.NotEmpty(t, ctx.Response.Header.Peek("Set-Cookie"))
}
