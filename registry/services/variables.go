package services

// Variables carries deployment specific settings that handlers need at
// request time.
type Variables struct {
	// BaseUrl is the externally visible root of this registry instance,
	// used when rendering linked-data documents.
	BaseUrl string

	// MaxUploadBytes caps the size of a single asset file upload.
	MaxUploadBytes int64

	// MinFreeStorageBytes is the free space threshold below which uploads
	// are rejected.
	MinFreeStorageBytes uint64
}
