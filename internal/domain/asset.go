package domain

// AssetKind enumerates derived asset categories
type AssetKind string

const (
	AssetKindSizeVariant  AssetKind = "size-variant"
	AssetKindColorVariant AssetKind = "color-variant"
	AssetKindIcon         AssetKind = "icon"
	AssetKindArchive      AssetKind = "archive"
)

// DerivedAsset is one file produced from a base image
type DerivedAsset struct {
	Kind           AssetKind `json:"kind"`
	Name           string    `json:"name"`
	SourceImageRef string    `json:"source_image_ref"`
	StorageURL     string    `json:"storage_url"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	Fallback       bool      `json:"fallback,omitempty"`
}
