package processor

import (
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
)

// SupportedExtensions is the upload allow-list
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
}

// ValidateUpload checks the filename and declared size before any processing
func ValidateUpload(filename string, size, maxSize int64) error {
	if strings.TrimSpace(filename) == "" {
		return errors.NewMissingFilenameError()
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !SupportedExtensions[ext] {
		return errors.NewUnsupportedFormatError(filename, ext)
	}

	if size <= 0 {
		return errors.NewEmptyFileError(filename)
	}
	if maxSize > 0 && size > maxSize {
		return errors.NewFileTooLargeError(filename, size, maxSize)
	}
	return nil
}
