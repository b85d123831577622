package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"recipeshare/internal/usertoken"
	"recipeshare/internal/util"
	"recipeshare/pkg/auth"
	"recipeshare/pkg/domain"
	"recipeshare/pkg/storage"
	"recipeshare/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Sequence    store.Sequence
	Media       storage.MediaStore
	Tokens      *usertoken.Manager
	AdminUsers  []string
}

// App is the core application service wiring together storage, media and
// domain logic.
type App struct {
	store  store.Store
	seq    store.Sequence
	media  storage.MediaStore
	tokens *usertoken.Manager
	policy Policy
}

// New constructs the application. When no store is injected it opens the
// Postgres store, which also serves as the recipe ID sequence.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	seq := cfg.Sequence
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore = gormStore
		if seq == nil {
			seq = gormStore
		}
	}
	if seq == nil {
		return nil, fmt.Errorf("recipe ID sequence required")
	}
	if cfg.Media == nil {
		return nil, fmt.Errorf("media store required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager required")
	}
	return &App{
		store:  dataStore,
		seq:    seq,
		media:  cfg.Media,
		tokens: cfg.Tokens,
		policy: NewPolicy(cfg.AdminUsers),
	}, nil
}

// Policy exposes the access policy, mainly for handlers and tests.
func (a *App) Policy() Policy { return a.policy }

// Register creates a new account with a bcrypt-hashed password.
func (a *App) Register(username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, validationf("username and password required")
	}
	taken, err := a.store.HasUsername(username)
	if err != nil {
		return domain.User{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.User{}, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	role := domain.RoleUser
	if a.policy.IsPrivileged(username) {
		role = domain.RoleAdmin
	}
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Login validates credentials and issues an access token.
func (a *App) Login(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// RecipeInput carries parsed recipe fields from a create or update request.
// Zero-valued fields are treated as absent on update.
type RecipeInput struct {
	Name            string
	Cuisine         string
	CookingTime     int
	Ingredients     []domain.Ingredient
	MethodSteps     []string
	NutritionalInfo string
	YoutubeLink     string
}

// ImageUpload is a validated image file attached to a create/update request.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// CreateRecipe validates the input, allocates the next recipe ID, uploads
// the optional image, and persists the new document.
func (a *App) CreateRecipe(owner string, in RecipeInput, image *ImageUpload) (domain.Recipe, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Recipe{}, validationf("name is required")
	}
	if strings.TrimSpace(in.Cuisine) == "" {
		return domain.Recipe{}, validationf("cuisine is required")
	}
	if in.CookingTime <= 0 {
		return domain.Recipe{}, validationf("cookingTime must be a positive number of minutes")
	}
	if len(in.Ingredients) == 0 {
		return domain.Recipe{}, validationf("ingredients are required")
	}

	id, err := a.seq.Next(context.Background())
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("allocate recipe id: %w", err)
	}

	now := time.Now().UTC()
	recipe := domain.Recipe{
		ID:              id,
		Name:            in.Name,
		Cuisine:         in.Cuisine,
		CookingTime:     in.CookingTime,
		Ingredients:     in.Ingredients,
		MethodSteps:     in.MethodSteps,
		NutritionalInfo: in.NutritionalInfo,
		YoutubeLink:     in.YoutubeLink,
		Comments:        []domain.Comment{},
		Rating:          0,
		CreatedBy:       owner,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if image != nil {
		url, ref, err := a.uploadImage(image)
		if err != nil {
			return domain.Recipe{}, err
		}
		recipe.ImageURL = url
		recipe.ImageRef = ref
	}
	if err := a.store.SaveRecipe(recipe); err != nil {
		if recipe.ImageRef != "" {
			a.destroyImage(recipe.ImageRef)
		}
		return domain.Recipe{}, fmt.Errorf("save recipe: %w", err)
	}
	return recipe, nil
}

// GetRecipe retrieves a recipe by ID.
func (a *App) GetRecipe(id int64) (domain.Recipe, error) {
	recipe, ok, err := a.store.GetRecipe(id)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("get recipe: %w", err)
	}
	if !ok {
		return domain.Recipe{}, ErrRecipeNotFound
	}
	return recipe, nil
}

// ListRecipes returns all recipes.
func (a *App) ListRecipes() ([]domain.Recipe, error) {
	return a.store.ListRecipes()
}

// UpdateRecipe applies the fields present in the input to an existing
// recipe. Absent or zero-valued fields are left untouched, so an update
// cannot clear a field back to empty or zero. A replacement image releases
// the previous media object exactly once.
func (a *App) UpdateRecipe(id int64, requester string, in RecipeInput, image *ImageUpload) (domain.Recipe, error) {
	recipe, ok, err := a.store.GetRecipe(id)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("get recipe: %w", err)
	}
	if !ok {
		return domain.Recipe{}, ErrRecipeNotFound
	}
	if !a.policy.CanEdit(requester, recipe) {
		return domain.Recipe{}, ErrForbidden
	}

	if in.Name != "" {
		recipe.Name = in.Name
	}
	if in.Cuisine != "" {
		recipe.Cuisine = in.Cuisine
	}
	if in.CookingTime > 0 {
		recipe.CookingTime = in.CookingTime
	}
	if len(in.Ingredients) > 0 {
		recipe.Ingredients = in.Ingredients
	}
	if len(in.MethodSteps) > 0 {
		recipe.MethodSteps = in.MethodSteps
	}
	if in.NutritionalInfo != "" {
		recipe.NutritionalInfo = in.NutritionalInfo
	}
	if in.YoutubeLink != "" {
		recipe.YoutubeLink = in.YoutubeLink
	}

	previousRef := ""
	if image != nil {
		url, ref, err := a.uploadImage(image)
		if err != nil {
			return domain.Recipe{}, err
		}
		previousRef = recipe.ImageRef
		recipe.ImageURL = url
		recipe.ImageRef = ref
	}

	recipe.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveRecipe(recipe); err != nil {
		return domain.Recipe{}, fmt.Errorf("save recipe: %w", err)
	}
	if previousRef != "" {
		a.destroyImage(previousRef)
	}
	return recipe, nil
}

// DeleteRecipe removes a recipe. The associated media object is released
// best-effort: a media failure is logged and does not block the deletion.
func (a *App) DeleteRecipe(id int64, requester string) error {
	recipe, ok, err := a.store.GetRecipe(id)
	if err != nil {
		return fmt.Errorf("get recipe: %w", err)
	}
	if !ok {
		return ErrRecipeNotFound
	}
	if !a.policy.CanDelete(requester, recipe) {
		return ErrForbidden
	}
	if recipe.ImageRef != "" {
		a.destroyImage(recipe.ImageRef)
	}
	if err := a.store.DeleteRecipe(id); err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	return nil
}

// AddComment appends a comment and recomputes the aggregate rating.
func (a *App) AddComment(id int64, author, text string, rating int) (domain.Recipe, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Recipe{}, validationf("comment text is required")
	}
	if rating < domain.RatingMin || rating > domain.RatingMax {
		return domain.Recipe{}, validationf("rating must be between %d and %d", domain.RatingMin, domain.RatingMax)
	}
	recipe, ok, err := a.store.GetRecipe(id)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("get recipe: %w", err)
	}
	if !ok {
		return domain.Recipe{}, ErrRecipeNotFound
	}

	recipe.Comments = append(recipe.Comments, domain.Comment{
		Comment:  text,
		Rating:   rating,
		Author:   author,
		PostedAt: time.Now().UTC(),
	})
	recipe.Rating = domain.AggregateRating(recipe.Comments)
	recipe.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveRecipe(recipe); err != nil {
		return domain.Recipe{}, fmt.Errorf("save recipe: %w", err)
	}
	return recipe, nil
}

// DeleteComment removes the comment at the given position, shifting later
// comments down, and recomputes the aggregate rating.
func (a *App) DeleteComment(id int64, index int, requester string) (domain.Recipe, error) {
	if !a.policy.CanDeleteComment(requester) {
		return domain.Recipe{}, ErrForbidden
	}
	recipe, ok, err := a.store.GetRecipe(id)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("get recipe: %w", err)
	}
	if !ok {
		return domain.Recipe{}, ErrRecipeNotFound
	}
	if index < 0 || index >= len(recipe.Comments) {
		return domain.Recipe{}, validationf("comment index %d out of range", index)
	}

	recipe.Comments = append(recipe.Comments[:index], recipe.Comments[index+1:]...)
	recipe.Rating = domain.AggregateRating(recipe.Comments)
	recipe.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveRecipe(recipe); err != nil {
		return domain.Recipe{}, fmt.Errorf("save recipe: %w", err)
	}
	return recipe, nil
}

func (a *App) uploadImage(image *ImageUpload) (url, ref string, err error) {
	ext := strings.ToLower(filepath.Ext(image.Filename))
	ref = "recipes/" + util.NewID() + ext
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	url, err = a.media.Upload(ctx, ref, image.Reader, image.Size, contentType)
	if err != nil {
		return "", "", fmt.Errorf("upload image: %w", err)
	}
	return url, ref, nil
}

// destroyImage releases a media object, logging failures instead of
// surfacing them: the database record is authoritative.
func (a *App) destroyImage(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.media.Destroy(ctx, ref); err != nil {
		util.LoggerFromContext(ctx).Warn("release media object failed", "ref", ref, "err", err)
	}
}
