package auth

import (
	"errors"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// Level ranks a role; unknown roles rank zero.
func Level(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := Level(required)
	if requiredLevel == 0 {
		return false
	}
	for _, role := range roles {
		if Level(role) >= requiredLevel {
			return true
		}
	}
	return false
}
