package playlist

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var ErrInvalidBase = errors.New("invalid base url")

var absoluteURLRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// BaseURL returns the directory of a playlist URL, everything up to and
// including the last slash of its path.
func BaseURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBase, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidBase, target)
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""

	base := u.String()
	if i := strings.LastIndex(base, "/"); i >= len(u.Scheme)+len("://") {
		return base[:i+1], nil
	}
	return base + "/", nil
}

type resolver struct {
	base *url.URL
}

func newResolver(baseURL string) (*resolver, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidBase, baseURL)
	}

	return &resolver{base: base}, nil
}

// Resolve makes ref absolute. References that cannot be parsed are returned
// unchanged.
func (r *resolver) Resolve(ref string) string {
	switch {
	case ref == "":
		return ""
	case absoluteURLRegex.MatchString(ref):
		return ref
	case strings.HasPrefix(ref, "//"):
		return r.base.Scheme + ":" + ref
	case strings.HasPrefix(ref, "/"):
		return r.base.Scheme + "://" + r.base.Host + ref
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	return r.base.ResolveReference(u).String()
}

// Resolve makes ref absolute against baseURL.
func Resolve(ref, baseURL string) (string, error) {
	r, err := newResolver(baseURL)
	if err != nil {
		return "", err
	}
	return r.Resolve(ref), nil
}
