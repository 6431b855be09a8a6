package derived

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/objectstore"
	"github.com/cuongbtq/brandgen/internal/synthesis"
	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSizes = []Size{
	{Tier: "favicon", Name: "favicon-16.png", Width: 16, Height: 16},
	{Tier: "web", Name: "web-96.png", Width: 96, Height: 96},
	{Tier: "social", Name: "social-120x63.png", Width: 120, Height: 63},
}

var testIcons = []int{8, 16, 24, 32}

type hangingProvider struct{}

func (hangingProvider) Name() string { return "hanging" }

func (hangingProvider) Synthesize(ctx context.Context, req synthesis.Request) ([]synthesis.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type countingProvider struct {
	calls int
	inner synthesis.Provider
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Synthesize(ctx context.Context, req synthesis.Request) ([]synthesis.Image, error) {
	p.calls++
	return p.inner.Synthesize(ctx, req)
}

func seedBase(t *testing.T, store *objectstore.MemoryStore) string {
	return seedBaseAs(t, store, imageproc.FormatPNG)
}

func seedBaseAs(t *testing.T, store *objectstore.MemoryStore, format string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 40, A: 255})
		}
	}
	data, err := imageproc.Encode(img, format)
	require.NoError(t, err)
	url, err := store.Upload(context.Background(), data, objectstore.UploadOptions{
		Key:         "uploads/base" + imageproc.Extension(format),
		ContentType: imageproc.ContentType(format),
	})
	require.NoError(t, err)
	return url
}

func newPipeline(store objectstore.Store, provider synthesis.Provider, sizes []Size) *Pipeline {
	return New(store, provider, Config{
		IconTimeout: 50 * time.Millisecond,
		Sizes:       sizes,
		IconSizes:   testIcons,
	}, logger.NewNop())
}

func assetsOf(pkg *Package, kind domain.AssetKind) []domain.DerivedAsset {
	var out []domain.DerivedAsset
	for _, a := range pkg.Assets {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestBuild_SizeVariantsHaveExactDimensions(t *testing.T) {
	store := objectstore.NewMemoryStore()
	base := seedBase(t, store)
	provider := &countingProvider{inner: synthesis.PlaceholderProvider{Size: 64}}

	pkg, err := newPipeline(store, provider, testSizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme Coffee"})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.False(t, pkg.IconFallback)
	assert.Empty(t, pkg.Failed)

	for _, s := range testSizes {
		var found *domain.DerivedAsset
		for i, a := range pkg.Assets {
			if a.Name == s.Name {
				found = &pkg.Assets[i]
			}
		}
		require.NotNil(t, found, s.Name)

		data, err := store.Download(context.Background(), found.StorageURL)
		require.NoError(t, err)
		w, h, err := imageproc.Dimensions(data)
		require.NoError(t, err)
		assert.Equal(t, s.Width, w, s.Name)
		assert.Equal(t, s.Height, h, s.Name)
	}

	icons := assetsOf(pkg, domain.AssetKindIcon)
	require.Len(t, icons, len(testIcons))
	for _, icon := range icons {
		assert.False(t, icon.Fallback)
	}
}

func TestBuild_IconTimeoutFallsBackForEveryIcon(t *testing.T) {
	store := objectstore.NewMemoryStore()
	base := seedBase(t, store)

	pkg, err := newPipeline(store, hangingProvider{}, testSizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme"})
	require.NoError(t, err)

	assert.True(t, pkg.IconFallback)
	icons := assetsOf(pkg, domain.AssetKindIcon)
	require.Len(t, icons, 4)
	for i, icon := range icons {
		assert.True(t, icon.Fallback)
		data, err := store.Download(context.Background(), icon.StorageURL)
		require.NoError(t, err)
		w, h, err := imageproc.Dimensions(data)
		require.NoError(t, err)
		assert.Equal(t, testIcons[i], w)
		assert.Equal(t, testIcons[i], h)
	}

	assert.NotEmpty(t, pkg.ArchiveURL)
}

func TestBuild_FailedResizeShipsBaseImage(t *testing.T) {
	store := objectstore.NewMemoryStore()
	base := seedBase(t, store)
	sizes := append([]Size{{Tier: "broken", Name: "broken.png"}}, testSizes...)

	pkg, err := newPipeline(store, synthesis.PlaceholderProvider{Size: 64}, sizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme"})
	require.NoError(t, err)

	var broken domain.DerivedAsset
	for _, a := range pkg.Assets {
		if a.Name == "broken.png" {
			broken = a
		}
	}
	require.NotEmpty(t, broken.StorageURL)
	assert.True(t, broken.Fallback)

	original, err := store.Download(context.Background(), base)
	require.NoError(t, err)
	shipped, err := store.Download(context.Background(), broken.StorageURL)
	require.NoError(t, err)
	assert.Equal(t, original, shipped)
	assert.Len(t, assetsOf(pkg, domain.AssetKindSizeVariant), len(sizes)+1)
}

func TestBuild_JPEGBaseKeepsItsFormat(t *testing.T) {
	store := objectstore.NewMemoryStore()
	base := seedBaseAs(t, store, imageproc.FormatJPEG)
	sizes := append([]Size{{Tier: "broken", Name: "broken.png"}}, testSizes...)

	pkg, err := newPipeline(store, hangingProvider{}, sizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme"})
	require.NoError(t, err)

	byName := map[string]domain.DerivedAsset{}
	for _, a := range pkg.Assets {
		byName[a.Name] = a
	}

	for _, name := range []string{"original.jpg", "broken.jpg"} {
		a, ok := byName[name]
		require.True(t, ok, name)
		key := strings.TrimPrefix(a.StorageURL, "mem://")
		assert.Equal(t, "image/jpeg", store.ContentType(key), name)
	}
	assert.NotContains(t, byName, "original.png")

	resized := byName["favicon-16.png"]
	assert.Equal(t, "image/png", store.ContentType(strings.TrimPrefix(resized.StorageURL, "mem://")))

	data, err := store.Download(context.Background(), pkg.ArchiveURL)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var m manifest
	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(rc).Decode(&m))
		require.NoError(t, rc.Close())
	}
	assert.ElementsMatch(t, []string{"jpeg", "png"}, m.Formats)
}

func TestBuild_ArchiveContents(t *testing.T) {
	store := objectstore.NewMemoryStore()
	base := seedBase(t, store)

	pkg, err := newPipeline(store, hangingProvider{}, testSizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme Coffee!"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pkg.ArchiveURL, "acme-coffee-brand-kit.zip"))

	data, err := store.Download(context.Background(), pkg.ArchiveURL)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}

	for _, want := range []string{
		"manifest.json",
		"original.png",
		"sizes/favicon/favicon-16.png",
		"sizes/social/social-120x63.png",
		"icons/icon-8.png",
		"icons/icon-32.png",
		"colors/grayscale.png",
		"colors/inverted.png",
	} {
		assert.Contains(t, names, want)
	}

	rc, err := names["manifest.json"].Open()
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	var m manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "Acme Coffee!", m.DisplayName)
	assert.Equal(t, []string{"png"}, m.Formats)
	assert.Contains(t, m.Note, "Raster")
	assert.Len(t, m.Files, len(zr.File)-1)

	iconFile, err := names["icons/icon-32.png"].Open()
	require.NoError(t, err)
	iconData, err := io.ReadAll(iconFile)
	require.NoError(t, err)
	w, _, err := imageproc.Dimensions(iconData)
	require.NoError(t, err)
	assert.Equal(t, 32, w)
}

func TestBuild_FetchFailures(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newPipeline(store, hangingProvider{}, testSizes)

	_, err := p.Build(context.Background(), Input{BaseImageURL: "mem://missing.png", DisplayName: "x"})
	assert.ErrorIs(t, err, ErrFetch)

	_, err = p.Build(context.Background(), Input{DisplayName: "x"})
	assert.ErrorIs(t, err, ErrFetch)

	tiny, err := store.Upload(context.Background(), []byte("tiny"), objectstore.UploadOptions{Key: "tiny.png"})
	require.NoError(t, err)
	_, err = p.Build(context.Background(), Input{BaseImageURL: tiny, DisplayName: "x"})
	assert.ErrorIs(t, err, ErrFetch)

	junk, err := store.Upload(context.Background(), bytes.Repeat([]byte("x"), 256), objectstore.UploadOptions{Key: "junk.png"})
	require.NoError(t, err)
	_, err = p.Build(context.Background(), Input{BaseImageURL: junk, DisplayName: "x"})
	assert.ErrorIs(t, err, ErrFetch)
}

type failingUploads struct {
	*objectstore.MemoryStore
	failKey string
}

func (s failingUploads) Upload(ctx context.Context, data []byte, opts objectstore.UploadOptions) (string, error) {
	if strings.Contains(opts.Key, s.failKey) {
		return "", errors.New("bucket unavailable")
	}
	return s.MemoryStore.Upload(ctx, data, opts)
}

func TestBuild_AssetUploadFailureIsPartial(t *testing.T) {
	mem := objectstore.NewMemoryStore()
	base := seedBase(t, mem)
	store := failingUploads{MemoryStore: mem, failKey: "grayscale"}

	pkg, err := newPipeline(store, hangingProvider{}, testSizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"colors/grayscale.png"}, pkg.Failed)
	assert.NotEmpty(t, pkg.ArchiveURL)

	store.failKey = "brand-kit"
	_, err = newPipeline(store, hangingProvider{}, testSizes).Build(context.Background(), Input{BaseImageURL: base, DisplayName: "Acme"})
	assert.ErrorIs(t, err, ErrArchive)
}

func TestSettlementMarker(t *testing.T) {
	a := SettlementMarker("s3://bucket/logo.png")
	assert.True(t, strings.HasPrefix(a, "package:"))
	assert.Equal(t, a, SettlementMarker("s3://bucket/logo.png"))
	assert.NotEqual(t, a, SettlementMarker("s3://bucket/other.png"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "acme-coffee", slug("  Acme   Coffee! "))
	assert.Equal(t, "brand", slug("!!!"))
	assert.Equal(t, "café-42", slug("Café 42"))
}
