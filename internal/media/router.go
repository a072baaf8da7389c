package media

import (
	"bytes"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"whatstopic/internal/constants"
	"whatstopic/internal/models"
)

// Router provides centralized media type detection and size limits
type Router interface {
	// MaxSize returns the ceiling in bytes for a content kind
	MaxSize(kind models.Kind) int64
	// DetectMimeType sniffs a file on disk, falling back to its extension
	DetectMimeType(path string) string
	// ExtensionFor picks a file extension from a MIME type or file name
	ExtensionFor(mimeType, fileName string) string
}

type router struct {
	config models.MediaConfig
}

// NewRouter creates a new Router instance
func NewRouter(config models.MediaConfig) Router {
	return &router{
		config: config,
	}
}

func (r *router) MaxSize(kind models.Kind) int64 {
	var mb int
	switch kind {
	case models.KindImage:
		mb = r.config.MaxSizeMB.Image
	case models.KindVideo:
		mb = r.config.MaxSizeMB.Video
	case models.KindAudio:
		mb = r.config.MaxSizeMB.Audio
	case models.KindVoice:
		mb = r.config.MaxSizeMB.Voice
	case models.KindSticker:
		mb = r.config.MaxSizeMB.Sticker
	default:
		mb = r.config.MaxSizeMB.Document
	}
	if mb <= 0 {
		mb = constants.DefaultMaxDocumentSizeMB
	}
	return int64(mb) * constants.BytesPerMegabyte
}

func (r *router) DetectMimeType(path string) string {
	f, err := os.Open(path) // #nosec G304 - pipeline temp files only
	if err == nil {
		defer func() { _ = f.Close() }()
		head := make([]byte, constants.MimeDetectionBufferSize)
		n, _ := f.Read(head)
		if mimeType := sniff(head[:n]); mimeType != "" {
			return mimeType
		}
	}
	if mimeType, ok := constants.MimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mimeType
	}
	return constants.DefaultMimeType
}

// sniff checks the signature table first; http.DetectContentType does not know
// Ogg/Opus or WebP reliably.
func sniff(head []byte) string {
	for sig, ext := range constants.FileSignatures {
		if !bytes.HasPrefix(head, []byte(sig)) {
			continue
		}
		if sig == "RIFF" && (len(head) < 12 || string(head[8:12]) != "WEBP") {
			continue
		}
		if mimeType, ok := constants.MimeTypes["."+ext]; ok {
			return mimeType
		}
	}
	if len(head) == 0 {
		return ""
	}
	detected := http.DetectContentType(head)
	if detected == constants.DefaultMimeType || strings.HasPrefix(detected, "text/plain") {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(detected); err == nil {
		return parsed
	}
	return detected
}

func (r *router) ExtensionFor(mimeType, fileName string) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	if ext, ok := constants.MimeTypeToExtension[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
