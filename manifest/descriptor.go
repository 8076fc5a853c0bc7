package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Separator splits a URL from its forced filename in the string encoding
// of a descriptor.
const Separator = "|"

var (
	// ErrBlankDescriptor is returned for empty placeholder entries.
	ErrBlankDescriptor = errors.New("blank descriptor")

	// ErrMalformedDescriptor is returned when a descriptor string cannot be parsed.
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)

// Descriptor identifies one remote asset and, optionally, the name it must
// be stored under.
type Descriptor struct {
	// URL is the remote location of the asset.
	URL string `yaml:"url" json:"url"`

	// FilenameOverride forces the local filename when non-empty.
	FilenameOverride string `yaml:"filename,omitempty" json:"filename,omitempty"`
}

// ParseDescriptor decodes the "<url>" or "<url>|<filename>" form.
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Descriptor{}, ErrBlankDescriptor
	}

	parts := strings.Split(s, Separator)
	if len(parts) > 2 {
		return Descriptor{}, fmt.Errorf("%w: %q has more than one %q", ErrMalformedDescriptor, s, Separator)
	}

	d := Descriptor{URL: strings.TrimSpace(parts[0])}
	if d.URL == "" {
		return Descriptor{}, fmt.Errorf("%w: %q has no url", ErrMalformedDescriptor, s)
	}
	if len(parts) == 2 {
		d.FilenameOverride = strings.TrimSpace(parts[1])
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks that the override, if any, is a bare file name.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("%w: empty url", ErrMalformedDescriptor)
	}
	if strings.Contains(d.URL, Separator) {
		return fmt.Errorf("%w: url %q contains %q", ErrMalformedDescriptor, d.URL, Separator)
	}
	name := d.FilenameOverride
	if name == "" {
		return nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: filename %q is not a bare name", ErrMalformedDescriptor, name)
	}
	return nil
}

// HasOverride reports whether the descriptor forces a filename.
func (d Descriptor) HasOverride() bool {
	return d.FilenameOverride != ""
}

// String re-encodes the descriptor in the legacy string form.
func (d Descriptor) String() string {
	if d.FilenameOverride == "" {
		return d.URL
	}
	return d.URL + Separator + d.FilenameOverride
}

// RedactURL drops userinfo, query and fragment, where signed URLs carry
// their secrets. Use it for anything that ends up in logs or on screen.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Redacted is d.URL with RedactURL applied.
func (d Descriptor) Redacted() string {
	return RedactURL(d.URL)
}
