package domain

import (
	"math"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// RatingMin and RatingMax bound the accepted comment rating values.
const (
	RatingMin = 1
	RatingMax = 5
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Ingredient is a single entry of a recipe's ingredient list.
// Quantity is free text ("2 cups", "a pinch").
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
}

// Comment is a user remark with a rating in [RatingMin, RatingMax].
// A comment is addressed by its position in the recipe's comment list.
type Comment struct {
	Comment  string    `json:"comment"`
	Rating   int       `json:"rating"`
	Author   string    `json:"author,omitempty"`
	PostedAt time.Time `json:"postedAt"`
}

// Recipe is the central document of the service.
// ID is assigned once from a monotonic sequence and never reused.
// Rating is derived state: the mean of all comment ratings rounded to one
// decimal place, or 0 when there are no comments.
type Recipe struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	Cuisine         string       `json:"cuisine"`
	CookingTime     int          `json:"cookingTime"`
	Ingredients     []Ingredient `json:"ingredients"`
	MethodSteps     []string     `json:"methodSteps"`
	NutritionalInfo string       `json:"nutritionalInfo,omitempty"`
	YoutubeLink     string       `json:"youtubeLink,omitempty"`
	ImageURL        string       `json:"imageUrl,omitempty"`
	ImageRef        string       `json:"-"`
	Comments        []Comment    `json:"comments"`
	Rating          float64      `json:"rating"`
	CreatedBy       string       `json:"createdBy"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// AggregateRating computes the mean of the given comment ratings rounded to
// one decimal place. Empty input yields 0.
func AggregateRating(comments []Comment) float64 {
	if len(comments) == 0 {
		return 0
	}
	sum := 0
	for _, c := range comments {
		sum += c.Rating
	}
	mean := float64(sum) / float64(len(comments))
	return math.Round(mean*10) / 10
}
