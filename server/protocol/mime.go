package protocol

import "path"

const defaultType = "text/plain"

// suffix -> mime type, everything else is plain text
var mimeTypes = map[string]string{
	".htm":  "text/html",
	".html": "text/html",
	".png":  "image/png",
}

// ContentType maps a file name to its mime type by suffix.
// The index resource has no html suffix but is an html page.
func ContentType(name string) string {
	if path.Base(name) == IndexFile {
		return "text/html"
	}

	if t, ok := mimeTypes[path.Ext(name)]; ok {
		return t
	}
	return defaultType
}
