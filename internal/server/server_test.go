package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"recipeshare/internal/app"
	"recipeshare/internal/usertoken"
	"recipeshare/pkg/domain"
	"recipeshare/pkg/store"
)

type fakeMedia struct {
	uploads   map[string]string
	destroyed []string
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{uploads: make(map[string]string)}
}

func (f *fakeMedia) Upload(_ context.Context, ref string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	url := "http://media.test/" + ref
	f.uploads[ref] = url
	return url, nil
}

func (f *fakeMedia) Destroy(_ context.Context, ref string) error {
	f.destroyed = append(f.destroyed, ref)
	return nil
}

func newTestServer(t *testing.T, admins ...string) (*Server, *fakeMedia) {
	t.Helper()
	mr := miniredis.RunT(t)

	tokens, err := usertoken.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("usertoken.New: %v", err)
	}
	memStore := store.NewMemoryStore()
	media := newFakeMedia()
	application, err := app.New(app.Config{
		Store:      memStore,
		Sequence:   memStore,
		Media:      media,
		Tokens:     tokens,
		AdminUsers: admins,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv, err := New(Config{
		App:                        application,
		Tokens:                     tokens,
		RedisAddr:                  mr.Addr(),
		RegisterRateLimitPerMinute: 100,
		LoginRateLimitPerMinute:    100,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv, media
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, srv *Server, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret123"}
	if rec := doJSON(t, srv, http.MethodPost, "/register", "", creds); rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	rec := doJSON(t, srv, http.MethodPost, "/login", "", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp["token"] == "" {
		t.Fatalf("login %s: empty token", username)
	}
	return resp["token"]
}

type recipeForm struct {
	name        string
	cuisine     string
	cookingTime string
	ingredients []domain.Ingredient
	methodSteps []string
	imageName   string
	imageBody   []byte
}

func encodeRecipeForm(t *testing.T, form recipeForm) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"name":        form.name,
		"cuisine":     form.cuisine,
		"cookingTime": form.cookingTime,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if form.ingredients != nil {
		raw, err := json.Marshal(form.ingredients)
		if err != nil {
			t.Fatalf("marshal ingredients: %v", err)
		}
		if err := mw.WriteField("ingredients", string(raw)); err != nil {
			t.Fatalf("write ingredients: %v", err)
		}
	}
	if form.methodSteps != nil {
		raw, err := json.Marshal(form.methodSteps)
		if err != nil {
			t.Fatalf("marshal methodSteps: %v", err)
		}
		if err := mw.WriteField("methodSteps", string(raw)); err != nil {
			t.Fatalf("write methodSteps: %v", err)
		}
	}
	if form.imageName != "" {
		fw, err := mw.CreateFormFile("image", form.imageName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(form.imageBody); err != nil {
			t.Fatalf("write image body: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return mw.FormDataContentType(), &buf
}

func postRecipe(t *testing.T, srv *Server, token string, form recipeForm) *httptest.ResponseRecorder {
	t.Helper()
	contentType, body := encodeRecipeForm(t, form)
	req := httptest.NewRequest(http.MethodPost, "/recipes", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func simpleForm(name string) recipeForm {
	return recipeForm{
		name:        name,
		cuisine:     "italian",
		cookingTime: "25",
		ingredients: []domain.Ingredient{{Name: "pasta", Quantity: "200g"}},
		methodSteps: []string{"boil", "drain"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"OK"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "secret123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	var created domain.User
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if created.Username != "alice" || created.Role != domain.RoleUser {
		t.Fatalf("created user = %+v", created)
	}
	if strings.Contains(rec.Body.String(), "secret123") {
		t.Fatalf("register response leaks the password: %s", rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "other456"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register: status %d, want 400", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/register", "", map[string]string{"username": "", "password": "secret123"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty username: status %d, want 400", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d, want 401", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/login", "", map[string]string{"username": "nobody", "password": "secret123"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d, want 401", rec.Code)
	}
}

func TestRecipesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/recipes", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: status %d, want 403", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/recipes", "not-a-token", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("invalid token: status %d, want 403", rec.Code)
	}
}

func TestCreateAndFetchRecipe(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	rec := postRecipe(t, srv, token, simpleForm("Carbonara"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var created domain.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID != 1 || created.Name != "Carbonara" || created.CreatedBy != "alice" {
		t.Fatalf("created = %+v", created)
	}
	if created.Rating != 0 || len(created.Comments) != 0 {
		t.Fatalf("new recipe should start unrated: %+v", created)
	}

	rec = doJSON(t, srv, http.MethodGet, "/recipes/1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/recipes", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listed []domain.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != 1 {
		t.Fatalf("listed = %+v", listed)
	}

	rec = doJSON(t, srv, http.MethodGet, "/recipes/99", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown recipe: status %d, want 404", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/recipes/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d, want 400", rec.Code)
	}
}

func TestCreateRecipeValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	missingName := simpleForm("")
	if rec := postRecipe(t, srv, token, missingName); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name: status %d, want 400", rec.Code)
	}

	badTime := simpleForm("Toast")
	badTime.cookingTime = "soon"
	if rec := postRecipe(t, srv, token, badTime); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cookingTime: status %d, want 400", rec.Code)
	}

	noIngredients := simpleForm("Toast")
	noIngredients.ingredients = []domain.Ingredient{}
	if rec := postRecipe(t, srv, token, noIngredients); rec.Code != http.StatusBadRequest {
		t.Fatalf("no ingredients: status %d, want 400", rec.Code)
	}
}

func TestCreateRecipeWithImage(t *testing.T) {
	srv, media := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	form := simpleForm("Ramen")
	form.imageName = "bowl.jpg"
	form.imageBody = []byte("jpeg-bytes")
	rec := postRecipe(t, srv, token, form)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create with image: status %d body %s", rec.Code, rec.Body.String())
	}
	var created domain.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ImageURL == "" {
		t.Fatalf("expected an image URL, got %+v", created)
	}
	if len(media.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(media.uploads))
	}

	bad := simpleForm("Ramen2")
	bad.imageName = "script.exe"
	bad.imageBody = []byte("nope")
	if rec := postRecipe(t, srv, token, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad extension: status %d, want 400", rec.Code)
	}
	if len(media.uploads) != 1 {
		t.Fatalf("rejected upload must not reach the media host")
	}
}

func TestUpdateRecipeOwnership(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := registerAndLogin(t, srv, "alice")
	bob := registerAndLogin(t, srv, "bob")

	if rec := postRecipe(t, srv, alice, simpleForm("Carbonara")); rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d", rec.Code)
	}

	update := func(token string) *httptest.ResponseRecorder {
		contentType, body := encodeRecipeForm(t, recipeForm{name: "Cacio e Pepe"})
		req := httptest.NewRequest(http.MethodPut, "/recipes/1", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	if rec := update(bob); rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner update: status %d, want 403", rec.Code)
	}
	rec := update(alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update: status %d body %s", rec.Code, rec.Body.String())
	}
	var updated domain.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode update response: %v", err)
	}
	if updated.Name != "Cacio e Pepe" || updated.Cuisine != "italian" {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestCommentLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, "admin")
	alice := registerAndLogin(t, srv, "alice")
	bob := registerAndLogin(t, srv, "bob")
	admin := registerAndLogin(t, srv, "admin")

	if rec := postRecipe(t, srv, alice, simpleForm("Carbonara")); rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodPost, "/recipes/1/comment", bob, map[string]any{"comment": "great", "rating": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("first comment: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodPost, "/recipes/1/comment", alice, map[string]any{"comment": "too salty", "rating": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("second comment: status %d", rec.Code)
	}
	var recipe domain.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &recipe); err != nil {
		t.Fatalf("decode comment response: %v", err)
	}
	if recipe.Rating != 3.0 || len(recipe.Comments) != 2 {
		t.Fatalf("after two comments: rating=%v comments=%d", recipe.Rating, len(recipe.Comments))
	}
	if recipe.Comments[0].Author != "bob" {
		t.Fatalf("comments out of order: %+v", recipe.Comments)
	}

	rec = doJSON(t, srv, http.MethodPost, "/recipes/1/comment", bob, map[string]any{"comment": "again", "rating": 6})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range rating: status %d, want 400", rec.Code)
	}

	// Only privileged accounts may remove comments.
	rec = doJSON(t, srv, http.MethodDelete, "/recipes/1/comments/0", alice, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("owner comment delete: status %d, want 403", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/recipes/1/comments/0", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin comment delete: status %d body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &recipe); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if len(recipe.Comments) != 1 || recipe.Comments[0].Author != "alice" || recipe.Rating != 2.0 {
		t.Fatalf("after delete: %+v", recipe)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/recipes/1/comments/5", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range index: status %d, want 400", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/recipes/1/comments/x", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric index: status %d, want 400", rec.Code)
	}
}

func TestDeleteRecipe(t *testing.T) {
	srv, media := newTestServer(t, "admin")
	alice := registerAndLogin(t, srv, "alice")
	bob := registerAndLogin(t, srv, "bob")

	form := simpleForm("Carbonara")
	form.imageName = "dish.png"
	form.imageBody = []byte("png-bytes")
	if rec := postRecipe(t, srv, alice, form); rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodDelete, "/recipes/1", bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete: status %d, want 403", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/recipes/1", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete: status %d body %s", rec.Code, rec.Body.String())
	}
	if len(media.destroyed) != 1 {
		t.Fatalf("destroyed = %v, want the uploaded image released", media.destroyed)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/recipes/1", alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d, want 404", rec.Code)
	}
}

func TestRecipeIDsNotReused(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	for i := 1; i <= 2; i++ {
		if rec := postRecipe(t, srv, token, simpleForm(fmt.Sprintf("Dish %d", i))); rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status %d", i, rec.Code)
		}
	}
	if rec := doJSON(t, srv, http.MethodDelete, "/recipes/2", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec := postRecipe(t, srv, token, simpleForm("Dish 3"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create after delete: status %d", rec.Code)
	}
	var created domain.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 3 {
		t.Fatalf("id after delete = %d, want 3", created.ID)
	}
}

func TestRegisterRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	tokens, err := usertoken.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("usertoken.New: %v", err)
	}
	memStore := store.NewMemoryStore()
	application, err := app.New(app.Config{
		Store:    memStore,
		Sequence: memStore,
		Media:    newFakeMedia(),
		Tokens:   tokens,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv, err := New(Config{
		App:                        application,
		Tokens:                     tokens,
		RedisAddr:                  mr.Addr(),
		RegisterRateLimitPerMinute: 2,
		LoginRateLimitPerMinute:    2,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	for i := 0; i < 2; i++ {
		creds := map[string]string{"username": fmt.Sprintf("user%d", i), "password": "secret123"}
		if rec := doJSON(t, srv, http.MethodPost, "/register", "", creds); rec.Code != http.StatusCreated {
			t.Fatalf("register %d: status %d", i, rec.Code)
		}
	}
	rec := doJSON(t, srv, http.MethodPost, "/register", "", map[string]string{"username": "user9", "password": "secret123"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After header")
	}
}
