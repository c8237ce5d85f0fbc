package auth

import "fmt"

// AuthzError represents an authorization failure.
type AuthzError struct {
	// Subject is the principal that was denied.
	Subject string

	// Resource is the dashboard route that was requested.
	Resource string

	// Role is the role the route requires.
	Role Role
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("auth: access denied: subject=%q resource=%q requires=%q",
		e.Subject, e.Resource, e.Role)
}

// Is reports whether this error matches the target.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// Authorize returns nil if id holds role, and an *AuthzError otherwise.
func Authorize(id *Identity, resource string, role Role) error {
	if id != nil && id.Can(role) {
		return nil
	}
	subject := ""
	if id != nil {
		subject = id.Principal
	}
	return &AuthzError{Subject: subject, Resource: resource, Role: role}
}
