package api

import "fmt"

// Error is the store's structured error body. Name is a stable machine
// readable identifier; the client package translates well-known names into
// sentinel errors.
type Error struct {
	Status  int    `json:"-"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", e.Name, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}
