package http

import (
	"path/filepath"
)

// DefaultContentType is used when the extension is unknown
const DefaultContentType = "text/plain"

var mimeTypes = map[string]string{
	".css":   "text/css",
	".htm":   "text/html",
	".html":  "text/html",
	".txt":   "text/plain",
	".js":    "text/javascript",
	".png":   "image/png",
	".bmp":   "image/bmp",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".svg":   "image/svg+xml",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".wav":   "audio/wav",
	".aac":   "audio/aac",
	".mp3":   "audio/mpeg",
	".flac":  "audio/flac",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".flv":   "video/x-flv",
	".avi":   "video/x-msvideo",
	".mkv":   "video/x-matroska",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".tgz":   "application/gzip",
	".bz":    "application/x-bzip",
	".bz2":   "application/x-bzip2",
	".tar":   "application/x-tar",
	".rar":   "application/x-rar",
	".7z":    "application/x-7z-compressed",
	".pdf":   "application/pdf",
	".json":  "application/json",
	".epub":  "application/epub+zip",
}

// ContentType returns the MIME type for path's extension. Extensions match
// exactly, so ".HTML" is not ".html".
func ContentType(path string) (string, bool) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", false
	}
	ct, ok := mimeTypes[ext]
	return ct, ok
}

// ContentTypeOrDefault is ContentType falling back to DefaultContentType.
func ContentTypeOrDefault(path string) string {
	if ct, ok := ContentType(path); ok {
		return ct
	}
	return DefaultContentType
}
