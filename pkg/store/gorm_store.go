package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"recipeshare/pkg/domain"
)

const recipeSequenceName = "recipes"

// GormStore implements Store and Sequence using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return newGormStore(postgres.Open(dsn))
}

func newGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &RecipeModel{}, &SequenceModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Next increments the shared counter record and returns the new value in a
// single statement, so concurrent callers can never observe the same value.
// The first call creates the record initialized to 1 atomically as well.
func (s *GormStore) Next(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO recipe_sequences (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = recipe_sequences.value + 1
		 RETURNING value`,
		recipeSequenceName,
	).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("next recipe id: %w", err)
	}
	return value, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password_hash", "role"}),
	}).Create(&model).Error
}

// HasUsername checks if the username is taken.
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveRecipe stores or replaces a recipe document.
func (s *GormStore) SaveRecipe(r domain.Recipe) error {
	model, err := recipeToModel(r)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "cuisine", "cooking_time", "ingredients", "method_steps",
			"nutritional_info", "youtube_link", "image_url", "image_ref",
			"comments", "rating", "updated_at",
		}),
	}).Create(&model).Error
}

// GetRecipe retrieves a recipe by ID.
func (s *GormStore) GetRecipe(id int64) (domain.Recipe, bool, error) {
	var model RecipeModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Recipe{}, false, nil
		}
		return domain.Recipe{}, false, err
	}
	recipe, err := recipeFromModel(model)
	if err != nil {
		return domain.Recipe{}, false, err
	}
	return recipe, true, nil
}

// ListRecipes returns all recipes in ID order (full scan, no pagination).
func (s *GormStore) ListRecipes() ([]domain.Recipe, error) {
	var models []RecipeModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Recipe, 0, len(models))
	for _, m := range models {
		recipe, err := recipeFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, recipe)
	}
	return res, nil
}

// DeleteRecipe removes the recipe row. The ID is never handed out again.
func (s *GormStore) DeleteRecipe(id int64) error {
	return s.db.Delete(&RecipeModel{}, "id = ?", id).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func recipeToModel(r domain.Recipe) (RecipeModel, error) {
	ingredients, err := json.Marshal(r.Ingredients)
	if err != nil {
		return RecipeModel{}, fmt.Errorf("encode ingredients: %w", err)
	}
	steps, err := json.Marshal(r.MethodSteps)
	if err != nil {
		return RecipeModel{}, fmt.Errorf("encode method steps: %w", err)
	}
	comments, err := json.Marshal(r.Comments)
	if err != nil {
		return RecipeModel{}, fmt.Errorf("encode comments: %w", err)
	}
	return RecipeModel{
		ID:              r.ID,
		Name:            r.Name,
		Cuisine:         r.Cuisine,
		CookingTime:     r.CookingTime,
		Ingredients:     datatypes.JSON(ingredients),
		MethodSteps:     datatypes.JSON(steps),
		NutritionalInfo: r.NutritionalInfo,
		YoutubeLink:     r.YoutubeLink,
		ImageURL:        r.ImageURL,
		ImageRef:        r.ImageRef,
		Comments:        datatypes.JSON(comments),
		Rating:          r.Rating,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func recipeFromModel(m RecipeModel) (domain.Recipe, error) {
	recipe := domain.Recipe{
		ID:              m.ID,
		Name:            m.Name,
		Cuisine:         m.Cuisine,
		CookingTime:     m.CookingTime,
		NutritionalInfo: m.NutritionalInfo,
		YoutubeLink:     m.YoutubeLink,
		ImageURL:        m.ImageURL,
		ImageRef:        m.ImageRef,
		Rating:          m.Rating,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if len(m.Ingredients) > 0 {
		if err := json.Unmarshal(m.Ingredients, &recipe.Ingredients); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode ingredients: %w", err)
		}
	}
	if len(m.MethodSteps) > 0 {
		if err := json.Unmarshal(m.MethodSteps, &recipe.MethodSteps); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode method steps: %w", err)
		}
	}
	if len(m.Comments) > 0 {
		if err := json.Unmarshal(m.Comments, &recipe.Comments); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode comments: %w", err)
		}
	}
	return recipe, nil
}
