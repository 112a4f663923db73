package playlist

import (
	"strings"
)

type LineKind int

const (
	// LineDirective is passed through untouched: tags, comments, blank lines.
	LineDirective LineKind = iota
	// LineKeyTag is an #EXT-X-KEY or #EXT-X-MAP tag carrying a URI attribute.
	LineKeyTag
	// LineVariantTag is an #EXT-X-STREAM-INF tag together with its URI line.
	LineVariantTag
	// LineSegment is a media segment URI.
	LineSegment
)

func (k LineKind) String() string {
	switch k {
	case LineKeyTag:
		return "key"
	case LineVariantTag:
		return "variant"
	case LineSegment:
		return "segment"
	default:
		return "directive"
	}
}

const (
	tagKey       = "#EXT-X-KEY"
	tagMap       = "#EXT-X-MAP"
	tagStreamInf = "#EXT-X-STREAM-INF"
	tagEndList   = "#EXT-X-ENDLIST"
)

type Line struct {
	Kind LineKind
	Raw  string

	// key tag: value of the URI attribute
	// variant tag: the following URI line
	// segment: path without query
	URI string

	Query    string // segment only
	HasQuery bool   // segment only

	// variant tag only: lines between the tag and its URI line, kept as is
	Between []string
}

// Parse classifies playlist lines. A variant tag takes ownership of the next
// URI line, so the returned slice may be shorter than the input.
func Parse(text string) []Line {
	raw := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raw))

	for i := 0; i < len(raw); i++ {
		line := strings.TrimSuffix(raw[i], "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			lines = append(lines, Line{Kind: LineDirective, Raw: line})

		case hasTag(trimmed, tagKey) || hasTag(trimmed, tagMap):
			uri, ok := attributeURI(line)
			if !ok {
				lines = append(lines, Line{Kind: LineDirective, Raw: line})
				continue
			}
			lines = append(lines, Line{Kind: LineKeyTag, Raw: line, URI: uri})

		case hasTag(trimmed, tagStreamInf):
			// lookahead for the variant URI, skipping blank lines
			j := i + 1
			for j < len(raw) && strings.TrimSpace(raw[j]) == "" {
				j++
			}

			if j >= len(raw) || strings.HasPrefix(strings.TrimSpace(raw[j]), "#") {
				lines = append(lines, Line{Kind: LineDirective, Raw: line})
				continue
			}

			between := make([]string, 0, j-i-1)
			for _, b := range raw[i+1 : j] {
				between = append(between, strings.TrimSuffix(b, "\r"))
			}

			lines = append(lines, Line{
				Kind:    LineVariantTag,
				Raw:     line,
				URI:     strings.TrimSpace(raw[j]),
				Between: between,
			})
			i = j

		case strings.HasPrefix(trimmed, "#"):
			lines = append(lines, Line{Kind: LineDirective, Raw: line})

		default:
			path, query, hasQuery := strings.Cut(trimmed, "?")
			// anything after a second "?" is not part of the query
			query, _, _ = strings.Cut(query, "?")

			lines = append(lines, Line{
				Kind:     LineSegment,
				Raw:      line,
				URI:      path,
				Query:    query,
				HasQuery: hasQuery && query != "",
			})
		}
	}

	return lines
}

// IsLive reports whether the playlist can still grow.
func IsLive(text string) bool {
	return !strings.Contains(text, tagEndList)
}

func hasTag(line, tag string) bool {
	if !strings.HasPrefix(line, tag) {
		return false
	}
	rest := line[len(tag):]
	return rest == "" || rest[0] == ':'
}

// attributeURI returns the quoted value of the URI attribute.
func attributeURI(line string) (string, bool) {
	start, end, ok := attributeURIBounds(line)
	if !ok {
		return "", false
	}
	return line[start:end], true
}

// attributeURIBounds finds the value of URI="..." in a tag line. Attribute
// names are matched only at attribute boundaries, so KEYFORMATURI="..." or a
// quoted string containing URI= is not mistaken for it.
func attributeURIBounds(line string) (int, int, bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return 0, 0, false
	}

	inQuotes := false
	atBoundary := true
	for i := colon + 1; i < len(line); i++ {
		ch := line[i]

		if ch == '"' {
			inQuotes = !inQuotes
			atBoundary = false
			continue
		}
		if inQuotes {
			continue
		}
		if ch == ',' {
			atBoundary = true
			continue
		}

		if atBoundary && strings.HasPrefix(line[i:], `URI="`) {
			start := i + len(`URI="`)
			end := strings.IndexByte(line[start:], '"')
			if end < 0 {
				return 0, 0, false
			}
			return start, start + end, true
		}

		if ch != ' ' {
			atBoundary = false
		}
	}

	return 0, 0, false
}
