package store

import (
	"context"

	"recipeshare/pkg/domain"
)

// Store defines persistence operations for users and recipes.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUsername(username string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)

	// recipes
	SaveRecipe(domain.Recipe) error
	GetRecipe(id int64) (domain.Recipe, bool, error)
	ListRecipes() ([]domain.Recipe, error)
	DeleteRecipe(id int64) error
}

// Sequence allocates recipe IDs. Next returns a value strictly greater than
// every previously returned value, with no duplicates under concurrent
// callers. Allocated values are never reused, even after recipe deletion.
type Sequence interface {
	Next(ctx context.Context) (int64, error)
}
