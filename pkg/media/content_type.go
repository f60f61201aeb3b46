package media

import "strings"

// UnknownContentType is the explicit sentinel for extensions outside the
// supported set. The header is always present, never omitted.
const UnknownContentType = "err"

var contentTypes = map[string]string{
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",
	"pdf":  "application/pdf",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"wmv":  "video/x-ms-wmv",
	"mkv":  "video/x-matroska",
}

// ContentType resolves a MIME type from the file extension. The match is
// case-sensitive over a fixed enumeration; anything else maps to
// UnknownContentType.
func ContentType(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return UnknownContentType
	}
	if mime, has := contentTypes[path[idx+1:]]; has {
		return mime
	}
	return UnknownContentType
}
