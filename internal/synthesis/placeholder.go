package synthesis

import (
	"context"
	"crypto/sha256"
	"image/color"

	"github.com/cuongbtq/brandgen/internal/imageproc"
)

// PlaceholderProvider renders a solid square whose color is derived from the
// prompt. It lets the pipeline run end to end without provider credentials.
type PlaceholderProvider struct {
	Size int
}

func (p PlaceholderProvider) Name() string { return "placeholder" }

func (p PlaceholderProvider) Synthesize(ctx context.Context, req Request) ([]Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := p.Size
	if size <= 0 {
		size = 1024
	}

	sum := sha256.Sum256([]byte(req.Prompt))
	data, err := imageproc.Solid(size, size, color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 255})
	if err != nil {
		return nil, err
	}

	return []Image{{Data: data, MIMEType: "image/png"}}, nil
}
