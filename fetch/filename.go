package fetch

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// fallbackName is used when neither the response nor the URL names the file.
const fallbackName = "download"

// marketplaceExt is appended to synthesized marketplace names; those
// endpoints serve tensor weights.
const marketplaceExt = ".safetensors"

var (
	encodedFilename = regexp.MustCompile(`(?i)filename%3D%22(.+?)%22`)
	quotedFilename  = regexp.MustCompile(`(?i)filename="([^"]+)"`)
)

// filenameFromEncoded pulls filename%3D%22<name>%22 out of s and decodes it.
func filenameFromEncoded(s string) string {
	m := encodedFilename.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	name, err := url.PathUnescape(m[1])
	if err != nil {
		return ""
	}
	return cleanFilename(name)
}

// filenameFromLocation accepts both the percent-encoded form and a plain
// filename="<name>" in a raw Location header.
func filenameFromLocation(loc string) string {
	if name := filenameFromEncoded(loc); name != "" {
		return name
	}
	if m := quotedFilename.FindStringSubmatch(loc); m != nil {
		return cleanFilename(m[1])
	}
	if u, err := url.Parse(loc); err == nil {
		for _, key := range []string{"response-content-disposition", "response_content_disposition"} {
			if cd := u.Query().Get(key); cd != "" {
				return FilenameFromDisposition(cd)
			}
		}
	}
	return ""
}

// FilenameFromDisposition extracts the filename parameter of a
// Content-Disposition header value. RFC 2231 encoded names are decoded.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		if m := quotedFilename.FindStringSubmatch(header); m != nil {
			return cleanFilename(m[1])
		}
		return ""
	}
	return cleanFilename(params["filename"])
}

// BasenameFromURL returns the last path segment of rawURL, query stripped.
func BasenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p := u.Path
	if u.Scheme == "s3" {
		p = "/" + u.Host + p
	}
	return cleanFilename(path.Base(p))
}

// marketplaceFallback is basename(url path) plus the tensor extension.
func marketplaceFallback(rawURL string) string {
	base := BasenameFromURL(rawURL)
	if base == "" {
		base = fallbackName
	}
	return base + marketplaceExt
}

// cleanFilename reduces name to a bare file name, or "" if nothing usable
// is left.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", ".", "..":
		return ""
	}
	return name
}
