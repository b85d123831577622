package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// RecipeModel keeps the recipe as a document row: the ordered ingredient,
// step, and comment lists are stored as JSON columns.
type RecipeModel struct {
	ID              int64          `gorm:"primaryKey;autoIncrement:false"`
	Name            string         `gorm:"not null"`
	Cuisine         string         `gorm:"not null"`
	CookingTime     int            `gorm:"not null"`
	Ingredients     datatypes.JSON `gorm:"not null"`
	MethodSteps     datatypes.JSON
	NutritionalInfo string
	YoutubeLink     string
	ImageURL        string
	ImageRef        string
	Comments        datatypes.JSON
	Rating          float64   `gorm:"not null"`
	CreatedBy       string    `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// SequenceModel is the shared counter record backing recipe ID allocation.
type SequenceModel struct {
	Name  string `gorm:"primaryKey"`
	Value int64  `gorm:"not null"`
}

func (SequenceModel) TableName() string { return "recipe_sequences" }
