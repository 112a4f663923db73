package playlist

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	PlaylistEndpoint = "/"
	SegmentEndpoint  = "/ts"
	KeyEndpoint      = "/key"
)

type Result struct {
	Text     string
	Segments []string // absolute segment urls in playlist order
	Live     bool
}

func SegmentURL(target string) string {
	return SegmentEndpoint + "?target=" + url.QueryEscape(target)
}

func KeyURL(target string, live bool) string {
	return KeyEndpoint + "?target=" + url.QueryEscape(target) + "&live=" + strconv.FormatBool(live)
}

func PlaylistURL(target string) string {
	return PlaylistEndpoint + "?target=" + url.QueryEscape(target)
}

// Rewrite routes every segment, key and variant playlist of a manifest
// through the proxy endpoints.
func Rewrite(text, baseURL string) (*Result, error) {
	r, err := newResolver(baseURL)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Segments: []string{},
		Live:     IsLive(text),
	}

	parsed := Parse(text)
	out := make([]string, 0, len(parsed))

	for _, line := range parsed {
		switch line.Kind {
		case LineKeyTag:
			start, end, _ := attributeURIBounds(line.Raw)
			target := r.Resolve(line.URI)
			out = append(out, line.Raw[:start]+KeyURL(target, res.Live)+line.Raw[end:])

		case LineVariantTag:
			out = append(out, line.Raw)
			out = append(out, line.Between...)
			out = append(out, PlaylistURL(r.Resolve(line.URI)))

		case LineSegment:
			target := r.Resolve(line.URI)
			if line.HasQuery {
				target += "?" + line.Query
			}
			res.Segments = append(res.Segments, target)
			out = append(out, SegmentURL(target))

		default:
			out = append(out, line.Raw)
		}
	}

	res.Text = strings.Join(out, "\n")
	return res, nil
}
