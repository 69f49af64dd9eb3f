package utils

type ContextKey string

const (
	UserKey ContextKey = "user"
	RoleKey ContextKey = "role"

	// UserIDKey and RoleClaimKey name the JWT claims carrying identity.
	UserIDKey    string = "user_id"
	RoleClaimKey string = "role"
)
