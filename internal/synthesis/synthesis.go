// Package synthesis defines the image-synthesis provider contract and its
// implementations.
package synthesis

import (
	"context"
	"errors"
)

// ErrInvalidConfig is returned when a provider cannot be configured
var ErrInvalidConfig = errors.New("invalid synthesis configuration")

// Image is one encoded image
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is a single synthesis call
type Request struct {
	Prompt string
	// References are conditioning images (meme reference, edit source, icon base).
	References []Image
}

// Provider turns a prompt and optional reference images into images
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]Image, error)
}
