// Package ingestion turns a source file into page images and splits
// transcribed pages into overlapping chunks.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported source formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents (scanned) PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatPNG represents a single PNG page image.
	FormatPNG DocumentFormat = "png"
	// FormatJPEG represents a single JPEG page image.
	FormatJPEG DocumentFormat = "jpeg"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".png":
		return FormatPNG
	case ".jpg", ".jpeg":
		return FormatJPEG
	default:
		return FormatUnknown
	}
}

// MIMEType returns the image media type for single-image formats.
func (f DocumentFormat) MIMEType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return ""
	}
}
