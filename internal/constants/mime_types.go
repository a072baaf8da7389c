package constants

// MimeTypes maps file extensions to their corresponding MIME types
var MimeTypes = map[string]string{
	// Image formats
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",

	// Video formats
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",

	// Document formats
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".zip":  "application/zip",

	// Audio formats
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".oga":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",

	// Animated Telegram stickers
	".tgs": "application/x-tgsticker",
}

// DefaultMimeType is the fallback MIME type for unknown file extensions
const DefaultMimeType = "application/octet-stream"

// FileSignatures maps file format signatures to extensions
var FileSignatures = map[string]string{
	"OggS":              "ogg",
	"ID3":               "mp3",
	"GIF87a":            "gif",
	"GIF89a":            "gif",
	"RIFF":              "webp", // RIFF container, needs the WEBP fourcc check
	"%PDF":              "pdf",
	"\x89PNG\r\n\x1a\n": "png",
	"\xff\xd8\xff":      "jpg",
	"\x1a\x45\xdf\xa3":  "webm",
}

// MimeTypeToExtension maps MIME types to their primary file extensions
var MimeTypeToExtension = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",

	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",

	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/plain":              ".txt",
	"application/zip":         ".zip",
	"application/x-tgsticker": ".tgs",

	"audio/ogg":  ".ogg",
	"audio/opus": ".ogg",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/aac":  ".aac",
	"audio/mp4":  ".m4a",
}
