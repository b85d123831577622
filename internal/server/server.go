package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"recipeshare/internal/app"
	"recipeshare/internal/ratelimit"
	"recipeshare/internal/usertoken"
	"recipeshare/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Tokens                     *usertoken.Manager
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	MaxUploadBytes             int64
	AllowedExtensions          []string
}

// Server exposes the HTTP endpoints of the backend.
type Server struct {
	app               *app.App
	tokens            *usertoken.Manager
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	registerLimiter   *ratelimit.FixedWindowLimiter
	loginLimiter      *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "recipeshare:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:               cfg.App,
		tokens:            cfg.Tokens,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		registerLimiter:   registerLimiter,
		loginLimiter:      loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/login", s.handleLogin)

	// recipes (auth required)
	s.mux.Handle("/recipes", s.authenticated(s.handleRecipes))
	s.mux.Handle("/recipes/", s.authenticated(s.handleRecipeByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// auth wrapper
type authHandler func(http.ResponseWriter, *http.Request, usertoken.Claims)

// authenticated rejects requests without a valid bearer token before any
// handler logic runs. A missing or invalid token yields 403.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusForbidden, "missing token")
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		next(w, r, claims)
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(req.Username, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	_, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// /recipes
func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request, identity usertoken.Claims) {
	switch r.Method {
	case http.MethodGet:
		recipes, err := s.app.ListRecipes()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recipes)
	case http.MethodPost:
		s.handleCreateRecipe(w, r, identity)
	default:
		methodNotAllowed(w)
	}
}

// /recipes/{id}, /recipes/{id}/comment, /recipes/{id}/comments/{idx}
func (s *Server) handleRecipeByID(w http.ResponseWriter, r *http.Request, identity usertoken.Claims) {
	segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/recipes/"), "/")
	id, err := strconv.ParseInt(segments[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid recipe id")
		return
	}

	switch {
	case len(segments) == 1:
		s.handleRecipe(w, r, identity, id)
	case len(segments) == 2 && segments[1] == "comment":
		s.handleAddComment(w, r, identity, id)
	case len(segments) == 3 && segments[1] == "comments":
		s.handleDeleteComment(w, r, identity, id, segments[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRecipe(w http.ResponseWriter, r *http.Request, identity usertoken.Claims, id int64) {
	switch r.Method {
	case http.MethodGet:
		recipe, err := s.app.GetRecipe(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recipe)
	case http.MethodPut:
		input, image, err := s.parseRecipeForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		recipe, err := s.app.UpdateRecipe(id, identity.Username, input, image)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recipe)
	case http.MethodDelete:
		if err := s.app.DeleteRecipe(id, identity.Username); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request, identity usertoken.Claims) {
	input, image, err := s.parseRecipeForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipe, err := s.app.CreateRecipe(identity.Username, input, image)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recipe)
}

type commentRequest struct {
	Comment string `json:"comment"`
	Rating  int    `json:"rating"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, identity usertoken.Claims, id int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req commentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	recipe, err := s.app.AddComment(id, identity.Username, req.Comment, req.Rating)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, identity usertoken.Claims, id int64, rawIndex string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid comment index")
		return
	}
	recipe, err := s.app.DeleteComment(id, index, identity.Username)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

// parseRecipeForm reads recipe fields and the optional image file from a
// multipart form. The ordered ingredients and methodSteps fields arrive as
// JSON-encoded strings.
func (s *Server) parseRecipeForm(w http.ResponseWriter, r *http.Request) (app.RecipeInput, *app.ImageUpload, error) {
	input := app.RecipeInput{}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return input, nil, errors.New("invalid form data")
	}

	input.Name = strings.TrimSpace(r.FormValue("name"))
	input.Cuisine = strings.TrimSpace(r.FormValue("cuisine"))
	input.NutritionalInfo = strings.TrimSpace(r.FormValue("nutritionalInfo"))
	input.YoutubeLink = strings.TrimSpace(r.FormValue("youtubeLink"))

	if raw := strings.TrimSpace(r.FormValue("cookingTime")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return input, nil, errors.New("cookingTime must be a number of minutes")
		}
		input.CookingTime = minutes
	}
	if raw := r.FormValue("ingredients"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Ingredients); err != nil {
			return input, nil, errors.New("ingredients must be a JSON array of {name, quantity}")
		}
	}
	if raw := r.FormValue("methodSteps"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.MethodSteps); err != nil {
			return input, nil, errors.New("methodSteps must be a JSON array of strings")
		}
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return input, nil, nil
		}
		return input, nil, errors.New("invalid image upload")
	}
	if !s.isExtensionAllowed(header.Filename) {
		file.Close()
		return input, nil, errors.New("unsupported image type, expected jpg or png")
	}
	if header.Size > s.maxUploadBytes {
		file.Close()
		return input, nil, fmt.Errorf("image exceeds the %d byte limit", s.maxUploadBytes)
	}
	contentType := header.Header.Get("Content-Type")
	return input, &app.ImageUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Reader:      file,
	}, nil
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case app.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrRecipeNotFound):
		writeError(w, http.StatusNotFound, "recipe not found")
	default:
		// Unexpected failures stay generic for clients; detail goes to the log.
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 5 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg", ".png"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
