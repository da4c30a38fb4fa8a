package bluesky

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/net/publicsuffix"
)

// Facet feature types.
const (
	FeatureLink    = "app.bsky.richtext.facet#link"
	FeatureMention = "app.bsky.richtext.facet#mention"
	FeatureTag     = "app.bsky.richtext.facet#tag"
)

const maxTagGraphemes = 64

// Facet annotates a byte range of post text.
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// ByteSlice is a half-open range of UTF-8 byte offsets.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature is one facet feature; which field is set depends on Type.
type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// HandleResolver maps a handle to a DID.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

var (
	mentionRe = regexp.MustCompile(`(?:^|\s|\()(@([a-zA-Z0-9.-]+))\b`)
	handleRe  = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	urlRe     = regexp.MustCompile(`(?i)(?:^|\s|\()((https?://\S+)|(([a-z][a-z0-9]*(?:\.[a-z0-9]+)+)\S*))`)
	tagRe     = regexp.MustCompile(`(?:^|\s)[#＃]([^\s#＃]+)`)
)

type spanKind int

const (
	spanLink spanKind = iota
	spanMention
	spanTag
)

// span is a detected facet candidate before mention resolution.
type span struct {
	kind  spanKind
	start int
	end   int
	value string
}

// DetectFacets finds links, mentions and hashtags in text. Mentions are
// resolved through r; a mention whose handle cannot be resolved is left as
// plain text. Only context errors abort detection.
func DetectFacets(ctx context.Context, text string, r HandleResolver) ([]Facet, error) {
	spans := detectSpans(text)
	facets := make([]Facet, 0, len(spans))
	for _, s := range spans {
		var f Feature
		switch s.kind {
		case spanLink:
			f = Feature{Type: FeatureLink, URI: s.value}
		case spanTag:
			f = Feature{Type: FeatureTag, Tag: s.value}
		case spanMention:
			if r == nil {
				continue
			}
			did, err := r.ResolveHandle(ctx, s.value)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				continue
			}
			f = Feature{Type: FeatureMention, DID: did}
		}
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: s.start, ByteEnd: s.end},
			Features: []Feature{f},
		})
	}
	if len(facets) == 0 {
		return nil, nil
	}
	return facets, nil
}

// detectSpans returns facet candidates ordered by start offset.
func detectSpans(text string) []span {
	var spans []span
	spans = append(spans, detectMentions(text)...)
	spans = append(spans, detectLinks(text)...)
	spans = append(spans, detectTags(text)...)
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func detectMentions(text string) []span {
	var out []span
	for _, m := range mentionRe.FindAllStringSubmatchIndex(text, -1) {
		handle := text[m[4]:m[5]]
		if !handleRe.MatchString(handle) || !knownSuffix(handle) {
			continue
		}
		out = append(out, span{kind: spanMention, start: m[2], end: m[3], value: strings.ToLower(handle)})
	}
	return out
}

func detectLinks(text string) []span {
	var out []span
	for _, m := range urlRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		uri := text[start:end]
		if m[8] >= 0 {
			if !knownSuffix(text[m[8]:m[9]]) {
				continue
			}
		}

		trimmed := strings.TrimRight(uri, ".,;:!?")
		if strings.HasSuffix(trimmed, ")") && !strings.Contains(trimmed, "(") {
			trimmed = strings.TrimSuffix(trimmed, ")")
		}
		end -= len(uri) - len(trimmed)
		uri = trimmed

		if m[8] >= 0 {
			uri = "https://" + uri
		}
		out = append(out, span{kind: spanLink, start: start, end: end, value: uri})
	}
	return out
}

func detectTags(text string) []span {
	var out []span
	for _, m := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		tag := strings.TrimRightFunc(text[m[2]:m[3]], unicode.IsPunct)
		if !validTag(tag) {
			continue
		}
		_, hashSize := utf8.DecodeLastRuneInString(text[:m[2]])
		out = append(out, span{
			kind:  spanTag,
			start: m[2] - hashSize,
			end:   m[2] + len(tag),
			value: tag,
		})
	}
	return out
}

func validTag(tag string) bool {
	if tag == "" || uniseg.GraphemeClusterCount(tag) > maxTagGraphemes {
		return false
	}
	for _, r := range tag {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// knownSuffix reports whether domain ends in an ICANN-managed public suffix,
// which rules out things like "file.txt" or "v1.2".
func knownSuffix(domain string) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	suffix, icann := publicsuffix.PublicSuffix(domain)
	return icann && suffix != domain
}
