// Package validation carries the field-level error shape shared by the hub
// API's 422 responses.
package validation

import "fmt"

// ValidationError describes one rejected field in a request payload.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
