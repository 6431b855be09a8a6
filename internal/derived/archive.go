package derived

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

const manifestName = "manifest.json"

type manifestEntry struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

type manifest struct {
	DisplayName  string          `json:"display_name"`
	BaseImageURL string          `json:"base_image_url"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Formats      []string        `json:"formats"`
	Note         string          `json:"note"`
	Files        []manifestEntry `json:"files"`
}

func manifestFor(in Input, files []file, now time.Time) manifest {
	m := manifest{
		DisplayName:  in.DisplayName,
		BaseImageURL: in.BaseImageURL,
		GeneratedAt:  now.UTC(),
		Note:         "Raster formats only. Vector formats are not included in this package.",
	}
	seen := make(map[string]bool)
	for _, f := range files {
		if format := strings.TrimPrefix(f.contentType, "image/"); format != "" && !seen[format] {
			seen[format] = true
			m.Formats = append(m.Formats, format)
		}
		m.Files = append(m.Files, manifestEntry{
			Path:     f.path,
			Kind:     string(f.asset.Kind),
			Width:    f.asset.Width,
			Height:   f.asset.Height,
			Fallback: f.asset.Fallback,
		})
	}
	return m
}

// buildArchive writes the manifest and every file into a deflate zip
func buildArchive(m manifest, files []file) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}

	entries := append([]file{{path: manifestName, data: manifestJSON}}, files...)
	for _, f := range entries {
		header := &zip.FileHeader{Name: f.path, Method: zip.Deflate}
		header.Modified = m.GeneratedAt

		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
