package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/linklink-server/internal/config"
	"github.com/iliyamo/linklink-server/internal/handler"
	"github.com/iliyamo/linklink-server/internal/logger"
	"github.com/iliyamo/linklink-server/internal/middleware"
	"github.com/iliyamo/linklink-server/internal/notifier"
	"github.com/iliyamo/linklink-server/internal/repository/memory"
	"github.com/iliyamo/linklink-server/internal/service"
	memstorage "github.com/iliyamo/linklink-server/internal/storage/memory"
	"github.com/iliyamo/linklink-server/internal/utils"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000000000000000")

type app struct {
	e     *echo.Echo
	clock *utils.ManualClock
	files *memstorage.Storage
}

func newApp(t *testing.T) *app {
	t.Helper()
	log := logger.Discard()
	clock := utils.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	files := memstorage.New("/uploads")
	issuer := utils.NewTokenIssuer("test-secret", 30*time.Minute, 7*24*time.Hour, clock)
	hub := notifier.NewHub(nil, log)
	t.Cleanup(hub.Close)

	auth := service.NewAuthService(store.Users(), store.Tokens(), issuer, nil, clock, bcrypt.MinCost, log)
	images := service.NewImageService(store.Images(), files, service.ImageConfig{}, clock, log)
	cache := middleware.NewFeedCache(config.CacheConfig{}, nil, log)
	posters := service.NewPosterService(store.Posters(), store.Archive(), images, hub, cache, clock, log)

	_, err := auth.EnsureAdmin(context.Background(), "root", "root@example.com", "rootpass")
	require.NoError(t, err)

	e := New(Deps{
		Auth:          handler.NewAuthHandler(auth, posters, images),
		Admin:         handler.NewAdminHandler(auth),
		Poster:        handler.NewPosterHandler(posters, images),
		Image:         handler.NewImageHandler(images),
		Notify:        handler.NewNotifyHandler(hub),
		Authenticator: auth,
		FeedCache:     cache,
		Logger:        log,
	})
	return &app{e: e, clock: clock, files: files}
}

func (a *app) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(bs)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *app) multipart(t *testing.T, method, target, token string, fields map[string]string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, data := range files {
		h := make(textproto.MIMEHeader)
		field := "images"
		if strings.HasPrefix(name, "file:") {
			field, name = "file", strings.TrimPrefix(name, "file:")
		}
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rec)["code"].(string)
}

type pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (a *app) login(t *testing.T, username, password string) pair {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/auth/login", "", echo.Map{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[pair](t, rec)
}

// member registers username and has root approve it.
func (a *app) member(t *testing.T, username string) pair {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{
		"username": username, "email": username + "@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	root := a.login(t, "root", "rootpass")
	rec = a.do(t, http.MethodPost, "/v1/admin/users/approve", root.AccessToken, echo.Map{"username": username, "action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return a.login(t, username, "secret123")
}

func TestHealthz(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRouteIsJSON(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, rec))
}

func TestRegistrationApprovalFlow(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{"username": "alice", "email": "alice@example.com", "password": "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", decode[map[string]any](t, rec)["status"])

	rec = a.do(t, http.MethodPost, "/v1/auth/login", "", echo.Map{"username": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PENDING_APPROVAL", errCode(t, rec))

	root := a.login(t, "root", "rootpass")
	rec = a.do(t, http.MethodGet, "/v1/admin/users/pending", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]map[string]any](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0]["username"])

	rec = a.do(t, http.MethodPost, "/v1/admin/users/approve", root.AccessToken, echo.Map{"username": "alice", "action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/admin/users/approve", root.AccessToken, echo.Map{"username": "alice", "action": "reject"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_DECIDED", errCode(t, rec))

	p := a.login(t, "alice", "secret123")
	assert.Equal(t, "bearer", p.TokenType)

	rec = a.do(t, http.MethodGet, "/v1/me", p.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, "root", me["approved_by"])
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	a := newApp(t)
	alice := a.member(t, "alice")

	rec := a.do(t, http.MethodGet, "/v1/admin/users/pending", alice.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ADMIN_REQUIRED", errCode(t, rec))

	rec = a.do(t, http.MethodGet, "/v1/admin/users/pending", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{"username": "ab", "email": "not-an-email", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	assert.Contains(t, body["error"], "username")
	assert.Contains(t, body["error"], "email")
	assert.Contains(t, body["error"], "password")
}

func TestRefreshRotationAndLogout(t *testing.T) {
	a := newApp(t)
	p := a.member(t, "alice")

	rec := a.do(t, http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": p.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[pair](t, rec)
	assert.NotEqual(t, p.RefreshToken, next.RefreshToken)

	rec = a.do(t, http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": p.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REFRESH_TOKEN_INVALID", errCode(t, rec))

	rec = a.do(t, http.MethodPost, "/v1/auth/logout", next.AccessToken, echo.Map{"refresh_token": next.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": next.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPosterVisibilityOverHTTP(t *testing.T) {
	a := newApp(t)
	alice := a.member(t, "alice")
	bob := a.member(t, "bob")

	ids := map[string]float64{}
	for _, privacy := range []string{"public", "community", "private"} {
		rec := a.multipart(t, http.MethodPost, "/v1/posters", alice.AccessToken,
			map[string]string{"message": privacy + " post", "privacy": privacy},
			map[string][]byte{privacy + ".png": pngBytes})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decode[map[string]any](t, rec)
		ids[privacy] = created["id"].(float64)
		images := created["images"].([]any)
		require.Len(t, images, 1)
		assert.True(t, strings.HasPrefix(images[0].(map[string]any)["url"].(string), "/uploads/"))
		a.clock.Advance(time.Second)
	}

	rec := a.do(t, http.MethodGet, "/v1/posters", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[[]map[string]any](t, rec)
	require.Len(t, anon, 1)
	assert.Equal(t, "public", anon[0]["privacy"])

	rec = a.do(t, http.MethodGet, "/v1/posters", bob.AccessToken, nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = a.do(t, http.MethodGet, "/v1/posters?limit=10&offset=0", alice.AccessToken, nil)
	feed := decode[[]map[string]any](t, rec)
	require.Len(t, feed, 3)
	assert.Equal(t, "private", feed[0]["privacy"])

	private := "/v1/posters/" + itoa(ids["private"])
	rec = a.do(t, http.MethodGet, private, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "LOGIN_REQUIRED", errCode(t, rec))

	rec = a.do(t, http.MethodGet, private, bob.AccessToken, nil)
	assert.Equal(t, http.StatusUnavailableForLegalReasons, rec.Code)

	rec = a.do(t, http.MethodGet, private, alice.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/posters", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/posters?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPosterLifecycleOverHTTP(t *testing.T) {
	a := newApp(t)
	alice := a.member(t, "alice")
	bob := a.member(t, "bob")

	rec := a.multipart(t, http.MethodPost, "/v1/posters", alice.AccessToken,
		map[string]string{"message": "hello", "privacy": "public"},
		map[string][]byte{"a.png": pngBytes})
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/v1/posters/" + itoa(decode[map[string]any](t, rec)["id"].(float64))

	rec = a.do(t, http.MethodPatch, path, bob.AccessToken, echo.Map{"message": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPatch, path, alice.AccessToken, echo.Map{"message": "edited"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "edited", decode[map[string]any](t, rec)["message"])

	rec = a.do(t, http.MethodDelete, path+"/hard", alice.AccessToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_IN_TRASH", errCode(t, rec))

	rec = a.do(t, http.MethodDelete, path, alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/posters/deleted", alice.AccessToken, nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = a.do(t, http.MethodPatch, path+"/restore", alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["is_deleted"])

	rec = a.do(t, http.MethodDelete, path, alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodDelete, path+"/hard", alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	archived := decode[map[string]any](t, rec)["archived"].(map[string]any)
	assert.Equal(t, "edited", archived["message"])
	assert.Equal(t, 0, a.files.Len())

	rec = a.do(t, http.MethodGet, "/v1/posters/archived", alice.AccessToken, nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = a.do(t, http.MethodGet, path, alice.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmptyTrashOverHTTP(t *testing.T) {
	a := newApp(t)
	alice := a.member(t, "alice")

	for i := 0; i < 2; i++ {
		rec := a.multipart(t, http.MethodPost, "/v1/posters", alice.AccessToken, map[string]string{"message": "m"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		id := itoa(decode[map[string]any](t, rec)["id"].(float64))
		require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/v1/posters/"+id, alice.AccessToken, nil).Code)
	}

	rec := a.do(t, http.MethodDelete, "/v1/posters/deleted/hard", alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["deleted"])
}

func TestImageEndpoints(t *testing.T) {
	a := newApp(t)
	alice := a.member(t, "alice")
	bob := a.member(t, "bob")

	rec := a.multipart(t, http.MethodPost, "/v1/images", alice.AccessToken, nil, map[string][]byte{"file:pic.png": pngBytes})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	filename := decode[map[string]any](t, rec)["filename"].(string)
	assert.True(t, strings.HasPrefix(filename, "alice_"))

	rec = a.do(t, http.MethodGet, "/v1/images", alice.AccessToken, nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/v1/images/"+filename, alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pic.png", decode[map[string]any](t, rec)["original_filename"])

	rec = a.do(t, http.MethodGet, "/v1/images/"+filename, bob.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/v1/images/"+filename, bob.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/v1/images/"+filename, alice.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, a.files.Len())
}

func itoa(f float64) string {
	return strconv.FormatInt(int64(f), 10)
}
