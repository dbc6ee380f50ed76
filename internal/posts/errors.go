package posts

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("post not found")
	ErrAPI      = errors.New("API error")
)

// StatusError reports a non-2xx response from the blog API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrAPI, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrAPI
}
