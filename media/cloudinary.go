// Package media uploads repairer images to Cloudinary.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"fixnearby-server/logging"
)

// ErrNotConfigured is returned when CLOUDINARY_URL is missing
var ErrNotConfigured = errors.New("cloudinary not configured")

// Uploader stores images and returns their public URL
type Uploader struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewUploader creates an uploader from a cloudinary:// URL.
// An empty URL yields an uploader that always returns ErrNotConfigured.
func NewUploader(cloudinaryURL, folder string) (*Uploader, error) {
	if cloudinaryURL == "" {
		return &Uploader{folder: folder}, nil
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("initialize cloudinary: %w", err)
	}
	return &Uploader{cld: cld, folder: folder}, nil
}

// UploadProfilePhoto stores a repairer's profile photo, replacing the previous one
func (u *Uploader) UploadProfilePhoto(ctx context.Context, repairerID uint, file io.Reader, filename string) (string, error) {
	if u.cld == nil {
		return "", ErrNotConfigured
	}

	folder := u.folder + "/profile_photos/" + strconv.FormatUint(uint64(repairerID), 10)
	overwrite := true
	unique := false
	res, err := u.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:         folder,
		PublicID:       "profile",
		Overwrite:      &overwrite,
		UniqueFilename: &unique,
		ResourceType:   "image",
		Tags:           []string{"repairer", strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))},
	})
	if err != nil {
		return "", fmt.Errorf("upload profile photo: %w", err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("upload profile photo: %s", res.Error.Message)
	}

	logging.Ctx(ctx).Info().Uint("repairer_id", repairerID).Str("url", res.SecureURL).Msg("Profile photo uploaded")
	return res.SecureURL, nil
}
