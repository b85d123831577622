package app

import (
	"strings"

	"recipeshare/pkg/domain"
)

// Policy decides which identity may mutate which resource. It is stateless
// apart from the configured allow-list of privileged usernames.
type Policy struct {
	privileged map[string]struct{}
}

// NewPolicy builds a policy from the privileged-username allow-list.
func NewPolicy(privilegedUsers []string) Policy {
	set := make(map[string]struct{}, len(privilegedUsers))
	for _, name := range privilegedUsers {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return Policy{privileged: set}
}

// IsPrivileged reports whether the username is on the allow-list.
func (p Policy) IsPrivileged(username string) bool {
	_, ok := p.privileged[username]
	return ok
}

// CanEdit allows only the creator to edit a recipe's fields.
func (p Policy) CanEdit(username string, r domain.Recipe) bool {
	return username == r.CreatedBy
}

// CanDelete allows the creator or a privileged identity to delete a recipe.
func (p Policy) CanDelete(username string, r domain.Recipe) bool {
	return username == r.CreatedBy || p.IsPrivileged(username)
}

// CanDeleteComment allows only privileged identities to delete comments.
func (p Policy) CanDeleteComment(username string) bool {
	return p.IsPrivileged(username)
}
