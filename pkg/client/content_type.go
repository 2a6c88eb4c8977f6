package client

import (
	"strings"

	"github.com/umisama/go-regexpcache"
)

const (
	ContentTypeApplicationJSON       = "application/json"
	ContentTypeApplicationJSONRegexp = `^application/([a-zA-Z0-9\.\-]+\+)?json$`
)

// IsJSONContentType returns true for "application/json" and "application/*+json" media types.
// Media type parameters, for example "; charset=utf-8", are ignored.
func IsJSONContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return regexpcache.MustCompile(ContentTypeApplicationJSONRegexp).MatchString(mediaType)
}
