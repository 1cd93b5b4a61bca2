package resolver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"drivegate/pkg/types"
)

const upperhex = "0123456789ABCDEF"

// mediaExtensions mark a file as playable media in directory listings.
// Matching is an exact, case-sensitive suffix match.
var mediaExtensions = []string{
	".mkv", ".iso", ".ts", ".mp4", ".avi", ".rmvb",
	".wmv", ".m2ts", ".mpg", ".flv", ".rm", ".mov",
}

// Origin returns the scheme and host the request was addressed to
func Origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host
}

// QuotePath percent-encodes p, leaving unreserved characters, ':' and '/'
// as they are.
func QuotePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if shouldKeep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func shouldKeep(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', ':', '/':
		return true
	}
	return false
}

// AppendURL sets the browsable URL of e. A precomputed PathURL is used as
// the base when present.
func AppendURL(origin string, e *types.Entity) {
	base := e.PathURL
	if base == "" {
		base = origin + QuotePath(e.Path)
	}
	if e.IsDirectory {
		e.URL = base + "?id=" + strconv.FormatInt(e.ID, 10)
	} else {
		e.URL = base + "?pickcode=" + e.Pickcode
	}
}

// DisplaySize renders the size column of a listing row. The value is in
// GiB although the label reads GB.
func DisplaySize(e *types.Entity) string {
	if e.IsDirectory {
		return "--"
	}
	return fmt.Sprintf("%.2f GB", float64(e.Size)/1024/1024/1024)
}

// IsMedia reports whether name carries one of the media extensions
func IsMedia(name string) bool {
	for _, ext := range mediaExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// forwardHeaders picks the request headers passed on to link generation
func forwardHeaders(header http.Header) http.Header {
	out := http.Header{}
	for key, values := range header {
		if strings.EqualFold(key, "User-Agent") && len(values) > 0 {
			out.Set("User-Agent", values[0])
			break
		}
	}
	return out
}
