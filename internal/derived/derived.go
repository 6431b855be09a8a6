// Package derived turns one base image into a brand asset package: a size
// matrix, an icon set extracted by the synthesis provider, color variants and
// a zip archive with a manifest. Every stage after the fetch degrades instead
// of failing the package.
package derived

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/objectstore"
	"github.com/cuongbtq/brandgen/internal/synthesis"
)

var (
	// ErrFetch is returned when the base image cannot be fetched or is implausible
	ErrFetch = errors.New("failed to fetch base image")

	// ErrArchive is returned when the archive cannot be assembled or stored
	ErrArchive = errors.New("failed to assemble archive")
)

// Size is one entry in the size matrix
type Size struct {
	Tier   string `yaml:"tier"`
	Name   string `yaml:"name"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// DefaultSizes is the favicon, web, social and print matrix
var DefaultSizes = []Size{
	{Tier: "favicon", Name: "favicon-16.png", Width: 16, Height: 16},
	{Tier: "favicon", Name: "favicon-32.png", Width: 32, Height: 32},
	{Tier: "favicon", Name: "favicon-48.png", Width: 48, Height: 48},
	{Tier: "web", Name: "web-192.png", Width: 192, Height: 192},
	{Tier: "web", Name: "web-512.png", Width: 512, Height: 512},
	{Tier: "social", Name: "social-400x400.png", Width: 400, Height: 400},
	{Tier: "social", Name: "social-1200x630.png", Width: 1200, Height: 630},
	{Tier: "social", Name: "social-1500x500.png", Width: 1500, Height: 500},
	{Tier: "print", Name: "print-2048.png", Width: 2048, Height: 2048},
}

// DefaultIconSizes are the square icon edges derived from the single icon call
var DefaultIconSizes = []int{64, 128, 256, 512}

// Config holds derived-asset pipeline configuration
type Config struct {
	FetchTimeout time.Duration
	IconTimeout  time.Duration
	MinBytes     int64
	MaxBytes     int64
	KeyPrefix    string
	Sizes        []Size
	IconSizes    []int
	// BackgroundTolerance is the chroma-key tolerance applied to the extracted icon
	BackgroundTolerance uint8
}

// Input identifies the package to build
type Input struct {
	BaseImageURL string
	DisplayName  string
}

// Package describes a built asset package
type Package struct {
	DisplayName  string                `json:"display_name"`
	BaseImageURL string                `json:"base_image_url"`
	ArchiveURL   string                `json:"archive_url"`
	Assets       []domain.DerivedAsset `json:"assets"`
	IconFallback bool                  `json:"icon_fallback"`
	// Failed lists assets that were produced but could not be uploaded
	Failed []string `json:"failed,omitempty"`
}

// URLs returns the archive URL followed by every uploaded asset URL
func (p *Package) URLs() []string {
	urls := make([]string, 0, len(p.Assets)+1)
	if p.ArchiveURL != "" {
		urls = append(urls, p.ArchiveURL)
	}
	for _, a := range p.Assets {
		if a.Kind != domain.AssetKindArchive && a.StorageURL != "" {
			urls = append(urls, a.StorageURL)
		}
	}
	return urls
}

// Pipeline builds asset packages. It holds no per-package state.
type Pipeline struct {
	store    objectstore.Store
	provider synthesis.Provider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline; zero config fields take defaults
func New(store objectstore.Store, provider synthesis.Provider, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.IconTimeout <= 0 {
		cfg.IconTimeout = 60 * time.Second
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 64
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "packages"
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = DefaultSizes
	}
	if len(cfg.IconSizes) == 0 {
		cfg.IconSizes = DefaultIconSizes
	}
	if cfg.BackgroundTolerance == 0 {
		cfg.BackgroundTolerance = 24
	}

	return &Pipeline{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SettlementMarker is the ledger marker for packaging baseImageRef; a base
// image is settled at most once.
func SettlementMarker(baseImageRef string) string {
	return "package:" + refHash(baseImageRef)
}

func refHash(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:])
}

// file is one entry destined for storage and the archive
type file struct {
	asset       domain.DerivedAsset
	path        string
	data        []byte
	contentType string
}

// source is the fetched base image and its detected encoding
type source struct {
	ref    string
	data   []byte
	format string
}

// withExt swaps the extension of name for the one matching format
func withExt(name, format string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + imageproc.Extension(format)
}

// asBase describes data that is the unmodified base image under name
func (b source) asBase(asset domain.DerivedAsset, dir, name string) file {
	asset.Name = withExt(name, b.format)
	return file{
		asset:       asset,
		path:        dir + asset.Name,
		data:        b.data,
		contentType: imageproc.ContentType(b.format),
	}
}

func pngFile(asset domain.DerivedAsset, filePath string, data []byte) file {
	return file{
		asset:       asset,
		path:        filePath,
		data:        data,
		contentType: imageproc.ContentType(imageproc.FormatPNG),
	}
}

// Build runs every stage for in. Only a failed fetch or a failed archive
// upload fails the package.
func (p *Pipeline) Build(ctx context.Context, in Input) (*Package, error) {
	log := p.logger.With(
		slog.String("base_image_url", in.BaseImageURL),
		slog.String("display_name", in.DisplayName),
	)

	base, err := p.fetch(ctx, in.BaseImageURL)
	if err != nil {
		return nil, err
	}

	root := objectstore.Key(p.cfg.KeyPrefix, slug(in.DisplayName)+"-"+refHash(in.BaseImageURL)[:12])

	files := []file{base.asBase(domain.DerivedAsset{Kind: domain.AssetKindSizeVariant, SourceImageRef: in.BaseImageURL}, "", "original")}
	files = append(files, p.sizeVariants(base, log)...)

	icons, iconFallback := p.iconSet(ctx, in, base, log)
	files = append(files, icons...)
	files = append(files, p.colorVariants(base, log)...)

	pkg := &Package{
		DisplayName:  in.DisplayName,
		BaseImageURL: in.BaseImageURL,
		IconFallback: iconFallback,
	}

	for i := range files {
		f := &files[i]
		if f.asset.Width == 0 {
			if w, h, err := imageproc.Dimensions(f.data); err == nil {
				f.asset.Width, f.asset.Height = w, h
			}
		}

		url, err := p.store.Upload(ctx, f.data, objectstore.UploadOptions{
			Key:         objectstore.Key(root, f.path),
			ContentType: f.contentType,
		})
		if err != nil {
			log.Warn("Failed to upload derived asset",
				slog.String("asset", f.path),
				slog.Any("error", err),
			)
			pkg.Failed = append(pkg.Failed, f.path)
			continue
		}
		f.asset.StorageURL = url
		pkg.Assets = append(pkg.Assets, f.asset)
	}

	archive, err := buildArchive(manifestFor(in, files, p.now()), files)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}

	archiveURL, err := p.store.Upload(ctx, archive, objectstore.UploadOptions{
		Key:         objectstore.Key(root, slug(in.DisplayName)+"-brand-kit.zip"),
		ContentType: "application/zip",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}

	pkg.ArchiveURL = archiveURL
	pkg.Assets = append(pkg.Assets, domain.DerivedAsset{
		Kind:           domain.AssetKindArchive,
		Name:           slug(in.DisplayName) + "-brand-kit.zip",
		SourceImageRef: in.BaseImageURL,
		StorageURL:     archiveURL,
	})

	log.Info("Asset package built",
		slog.Int("assets", len(pkg.Assets)),
		slog.Int("failed", len(pkg.Failed)),
		slog.Bool("icon_fallback", iconFallback),
	)

	return pkg, nil
}

// fetch downloads the base image and rejects implausible payloads
func (p *Pipeline) fetch(ctx context.Context, url string) (source, error) {
	if url == "" {
		return source{}, fmt.Errorf("%w: empty url", ErrFetch)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	data, err := p.store.Download(ctx, url)
	if err != nil {
		return source{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	size := int64(len(data))
	if size < p.cfg.MinBytes || size > p.cfg.MaxBytes {
		return source{}, fmt.Errorf("%w: implausible size %d bytes", ErrFetch, size)
	}

	format, err := imageproc.Format(data)
	if err != nil {
		return source{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	return source{ref: url, data: data, format: format}, nil
}

// sizeVariants resizes base to every matrix entry. A failed resize ships the
// unmodified base under that filename.
func (p *Pipeline) sizeVariants(base source, log *slog.Logger) []file {
	out := make([]file, 0, len(p.cfg.Sizes))
	for _, s := range p.cfg.Sizes {
		asset := domain.DerivedAsset{
			Kind:           domain.AssetKindSizeVariant,
			Name:           s.Name,
			SourceImageRef: base.ref,
			Width:          s.Width,
			Height:         s.Height,
		}
		dir := "sizes/" + s.Tier + "/"

		data, err := imageproc.Resize(base.data, s.Width, s.Height)
		if err != nil {
			log.Warn("Resize failed, using base image",
				slog.String("size", s.Name),
				slog.Any("error", err),
			)
			asset.Fallback = true
			asset.Width, asset.Height = 0, 0
			out = append(out, base.asBase(asset, dir, s.Name))
			continue
		}

		out = append(out, pngFile(asset, dir+s.Name, data))
	}
	return out
}

// iconSet makes one provider call and derives every icon size from its
// result. Any failure falls back to resizing the base image.
func (p *Pipeline) iconSet(ctx context.Context, in Input, base source, log *slog.Logger) ([]file, bool) {
	icon, err := p.extractIcon(ctx, in, base)
	fallback := err != nil
	if fallback {
		log.Warn("Icon extraction failed, deriving icons from base image", slog.Any("error", err))
		icon = base.data
	}

	out := make([]file, 0, len(p.cfg.IconSizes))
	for _, edge := range p.cfg.IconSizes {
		name := fmt.Sprintf("icon-%d.png", edge)

		asset := domain.DerivedAsset{
			Kind:           domain.AssetKindIcon,
			Name:           name,
			SourceImageRef: in.BaseImageURL,
			Width:          edge,
			Height:         edge,
			Fallback:       fallback,
		}

		data, err := imageproc.Resize(icon, edge, edge)
		if err != nil && !fallback {
			asset.Fallback = true
			data, err = imageproc.Resize(base.data, edge, edge)
		}
		if err != nil {
			log.Warn("Icon resize failed, using base image",
				slog.String("icon", name),
				slog.Any("error", err),
			)
			asset.Fallback = true
			asset.Width, asset.Height = 0, 0
			out = append(out, base.asBase(asset, "icons/", name))
			continue
		}

		out = append(out, pngFile(asset, "icons/"+name, data))
	}
	return out, fallback
}

func (p *Pipeline) extractIcon(ctx context.Context, in Input, base source) ([]byte, error) {
	if p.provider == nil {
		return nil, errors.New("no synthesis provider configured")
	}

	prompt, err := synthesis.RenderPrompt("icon", synthesis.IconPromptData{DisplayName: in.DisplayName})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.IconTimeout)
	defer cancel()

	images, err := p.provider.Synthesize(ctx, synthesis.Request{
		Prompt:     prompt,
		References: []synthesis.Image{{Data: base.data, MIMEType: imageproc.ContentType(base.format)}},
	})
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, domain.ErrNoOutputs
	}

	icon := images[0].Data
	if stripped, err := imageproc.RemoveBackground(icon, p.cfg.BackgroundTolerance); err == nil {
		icon = stripped
	}
	return icon, nil
}

// colorVariants emits grayscale and inverted copies of base
func (p *Pipeline) colorVariants(base source, log *slog.Logger) []file {
	variants := []struct {
		name string
		fn   func([]byte) ([]byte, error)
	}{
		{"grayscale.png", imageproc.Grayscale},
		{"inverted.png", imageproc.Invert},
	}

	var out []file
	for _, v := range variants {
		data, err := v.fn(base.data)
		if err != nil {
			log.Warn("Color variant failed", slog.String("variant", v.name), slog.Any("error", err))
			continue
		}
		asset := domain.DerivedAsset{Kind: domain.AssetKindColorVariant, Name: v.name, SourceImageRef: base.ref}
		out = append(out, pngFile(asset, "colors/"+v.name, data))
	}
	return out
}

// slug lowercases name and collapses everything but letters and digits to '-'
func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "brand"
	}
	return s
}
