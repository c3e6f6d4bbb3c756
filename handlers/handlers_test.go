package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/service"
	"github.com/kevinaaaquil/bookswap/store"
	"github.com/kevinaaaquil/bookswap/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "handler-test-secret"

type memImages struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemImages() *memImages {
	return &memImages{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memImages) Upload(_ context.Context, prefix, name string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s%d-%s", prefix, len(m.objects), name)
	m.objects[key] = data
	m.types[key] = contentType
	return key, nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memImages) GetObject(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), m.types[key], nil
}

func (m *memImages) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.test/" + key, nil
}

type stubMetadata map[string]*service.BookMetadata

func (s stubMetadata) LookupISBN(_ context.Context, isbn string) (*service.BookMetadata, error) {
	if m, ok := s[service.NormalizeISBN(isbn)]; ok {
		return m, nil
	}
	return nil, service.ErrMetadataNotFound
}

type testAPI struct {
	t      *testing.T
	db     *store.Memory
	images *memImages
	h      http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := store.NewMemory()
	logger := utils.Discard()
	images := newMemImages()
	h := NewRouter(RouterConfig{
		DB:        db,
		Swaps:     service.NewSwapService(db, service.NewNotifier(service.LogMailer{Log: logger}, db, logger), logger, 0),
		Reviews:   service.NewReviewService(db, logger),
		Metadata:  stubMetadata{"9780441013593": {ISBN: "9780441013593", Title: "Dune", Author: "Frank Herbert", Genre: "Fiction"}},
		Images:    images,
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
		Quiet:     true,
	})
	return &testAPI{t: t, db: db, images: images, h: h}
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// register returns the token and user id for a fresh account.
func (a *testAPI) register(email string) (string, string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "User " + email, "email": email, "password": "secret123",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[AuthResponse](a.t, rec)
	return resp.Token, resp.User.ID.Hex()
}

func (a *testAPI) createBook(token, title string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/books", token, map[string]string{
		"title": title, "author": "Author", "condition": models.ConditionGood,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Book](a.t, rec).ID.Hex()
}

func TestRegisterLoginLogout(t *testing.T) {
	api := newTestAPI(t)
	api.register("a@example.com")

	rec := api.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Again", "email": "A@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Short", "email": "short@example.com", "password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AuthResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.NotNil(t, resp.User.LastLogin)
	require.NotEmpty(t, rec.Result().Cookies())
	assert.Equal(t, "token", rec.Result().Cookies()[0].Name)

	rec = api.do(http.MethodGet, "/api/users/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@example.com", decode[models.User](t, rec).Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = api.do(http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSwapAndReviewOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	tokenA, idA := api.register("a@example.com")
	tokenB, _ := api.register("b@example.com")
	x := api.createBook(tokenA, "Book X")
	y := api.createBook(tokenB, "Book Y")

	rec := api.do(http.MethodPost, "/api/swaps", tokenB, map[string]string{
		"requestedBookId": x, "offeredBookId": y, "message": "swap?",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	swap := decode[models.SwapView](t, rec)
	assert.Equal(t, models.SwapPending, swap.Status)
	assert.False(t, swap.IsExpired)
	swapPath := "/api/swaps/" + swap.ID.Hex()

	rec = api.do(http.MethodPost, "/api/swaps", tokenB, map[string]string{"requestedBookId": x, "offeredBookId": y})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPut, swapPath+"/accept", tokenB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPut, swapPath+"/accept", tokenA, map[string]string{"meetingLocation": "Cafe"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Cafe", decode[models.SwapView](t, rec).MeetingLocation)

	rec = api.do(http.MethodGet, "/api/books/"+x, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.Book](t, rec).IsAvailable)

	rec = api.do(http.MethodDelete, "/api/books/"+x, tokenA, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "book in a live swap cannot be deleted")

	rec = api.do(http.MethodGet, swapPath+"/eligible", tokenB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[service.Eligibility](t, rec).Eligible)

	rec = api.do(http.MethodPut, swapPath+"/complete", tokenB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodPut, swapPath+"/complete", tokenA, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, swapPath+"/eligible", tokenB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[service.Eligibility](t, rec).Eligible)

	rec = api.do(http.MethodPost, "/api/reviews", tokenB, map[string]interface{}{
		"swapId": swap.ID.Hex(), "revieweeId": idA, "rating": 4, "comment": "great",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = api.do(http.MethodPost, "/api/reviews", tokenB, map[string]interface{}{
		"swapId": swap.ID.Hex(), "revieweeId": idA, "rating": 5,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/api/users/"+idA, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[models.PublicProfile](t, rec)
	assert.Equal(t, 4.0, profile.Rating)
	assert.Equal(t, 1, profile.TotalRatings)
	assert.Equal(t, 1, profile.TotalSwaps)

	rec = api.do(http.MethodGet, "/api/users/"+idA+"/reviews", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[ListResponse[models.Review]](t, rec).Pagination.Total)

	rec = api.do(http.MethodGet, "/api/swaps?role=requester", tokenB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[models.SwapView]](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, models.SwapCompleted, list.Items[0].Status)

	require.NoError(t, api.db.SetUserRole(context.Background(), mustID(t, idA), models.RoleAdmin))
	rec = api.do(http.MethodGet, "/api/admin/swaps/"+swap.ID.Hex()+"/notifications", tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]models.EmailLog](t, rec)
	require.Len(t, logs, 3)
	assert.Equal(t, string(service.EventSwapRequested), logs[0].Event)
	assert.Equal(t, "b@example.com", logs[1].ToEmail)
	assert.Equal(t, "a@example.com", logs[2].ToEmail)
}

func mustID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return id
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", service.ErrNotFound), http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrSwapExpired, http.StatusConflict},
		{service.ErrConflict, http.StatusConflict},
		{service.ErrPreconditionFailed, http.StatusUnprocessableEntity},
		{service.ErrInvalidInput, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestBooksCRUDAndListing(t *testing.T) {
	api := newTestAPI(t)
	tokenA, _ := api.register("a@example.com")
	tokenB, _ := api.register("b@example.com")

	rec := api.do(http.MethodPost, "/api/books", tokenA, map[string]string{"isbn": "978-0441013593", "condition": models.ConditionNew})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dune := decode[models.Book](t, rec)
	assert.Equal(t, "Dune", dune.Title)
	assert.Equal(t, "Frank Herbert", dune.Author)
	assert.Equal(t, "a@example.com", dune.OwnerEmail)

	rec = api.do(http.MethodPost, "/api/books", tokenA, map[string]string{"title": "Bad", "author": "X", "condition": "Mint"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.createBook(tokenB, "Emma")
	api.createBook(tokenB, "Dune Messiah")

	rec = api.do(http.MethodGet, "/api/books?search=dune&limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[models.Book]](t, rec)
	assert.Equal(t, int64(2), list.Pagination.Total)
	assert.Equal(t, int64(2), list.Pagination.TotalPages)
	assert.Len(t, list.Items, 1)

	rec = api.do(http.MethodGet, "/api/books?sort=random", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	title := "Dune (1965)"
	rec = api.do(http.MethodPatch, "/api/books/"+dune.ID.Hex(), tokenB, models.BookUpdate{Title: &title})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodPatch, "/api/books/"+dune.ID.Hex(), tokenA, models.BookUpdate{Title: &title})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, title, decode[models.Book](t, rec).Title)

	rec = api.do(http.MethodGet, "/api/books/"+dune.ID.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.Book](t, rec).ViewCount)

	rec = api.do(http.MethodGet, "/api/books/lookup?isbn=0000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodDelete, "/api/books/"+dune.ID.Hex(), tokenB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodDelete, "/api/books/"+dune.ID.Hex(), tokenA, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(http.MethodGet, "/api/books/"+dune.ID.Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodGet, "/api/books/not-an-id", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCoverUploadAndStream(t *testing.T) {
	api := newTestAPI(t)
	tokenA, _ := api.register("a@example.com")
	tokenB, _ := api.register("b@example.com")
	id := api.createBook(tokenA, "Pictured")

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	upload := func(token string, data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "cover.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/books/"+id+"/cover", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		api.h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, upload(tokenB, png).Code)
	assert.Equal(t, http.StatusBadRequest, upload(tokenA, []byte("plain text")).Code)

	rec := upload(tokenA, png)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/books/"+id+"/cover", decode[CoverResponse](t, rec).CoverURL)

	rec = api.do(http.MethodGet, "/api/books/"+id+"/cover", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())

	// replacing the cover removes the old object
	require.Equal(t, http.StatusCreated, upload(tokenA, png).Code)
	assert.Len(t, api.images.objects, 1)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	tokenU, idU := api.register("user@example.com")
	tokenR, idR := api.register("reader@example.com")
	_, err := service.CreateAdmin(context.Background(), api.db, "admin@example.com", "Admin", "adminpass")
	require.NoError(t, err)
	rec := api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "admin@example.com", "password": "adminpass"})
	require.Equal(t, http.StatusOK, rec.Code)
	tokenAdmin := decode[AuthResponse](t, rec).Token

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/api/admin/stats", tokenU, nil).Code)

	api.createBook(tokenU, "One")
	rec = api.do(http.MethodGet, "/api/admin/stats", tokenAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.Stats](t, rec)
	assert.Equal(t, int64(3), stats.Users.Total)
	assert.Equal(t, int64(1), stats.Books.Active)

	rec = api.do(http.MethodPut, "/api/admin/users/"+idU+"/block", tokenAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.User](t, rec).IsBlocked)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/api/users/me", tokenU, nil).Code)

	rec = api.do(http.MethodPut, "/api/admin/users/"+idU+"/unblock", tokenAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/users/me", tokenU, nil).Code)

	rec = api.do(http.MethodGet, "/api/admin/users?search=reader", tokenAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[ListResponse[models.User]](t, rec).Pagination.Total)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/admin/users/"+idR, tokenAdmin, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/users/me", tokenR, nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/admin/users/"+idR+"?hard=true", tokenAdmin, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/users/"+idR, "", nil).Code)

	rec = api.do(http.MethodPost, "/api/admin/ratings/recompute", tokenAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[RecomputeResponse](t, rec).Users)

	rec = api.do(http.MethodGet, "/api/admin/swaps/expired", tokenAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[ListResponse[models.SwapView]](t, rec).Pagination.Total)
}
