package render

import (
	"regexp"
	"sort"
	"strings"
)

// SegmentKind distinguishes renderable content kinds within one text block.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentImage
)

// Segment is a contiguous span of one content kind, in source order.
type Segment struct {
	Kind  SegmentKind
	Value string
}

var (
	// Markdown image syntax: ![alt](https://...)
	imageMarkdownRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)
	// Line-oriented label convention: "Image: https://..."
	imageLabelRe = regexp.MustCompile(`(?mi)^[ \t]*image:[ \t]*(https?://\S+)[ \t]*$`)
)

// SplitSegments splits text into alternating text/image segments, ordered by
// first appearance. Surrounding whitespace is trimmed and empty text segments
// dropped; empty or whitespace-only input yields nil. Markdown images wrapped
// in a link ([![..](..)](..)) stay in the text: they are anchors, not media.
func SplitSegments(text string) []Segment {
	type span struct {
		start, end int
		url        string
	}
	var spans []span
	for _, m := range imageMarkdownRe.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > 0 && text[m[0]-1] == '[' {
			continue
		}
		spans = append(spans, span{start: m[0], end: m[1], url: text[m[2]:m[3]]})
	}
	for _, m := range imageLabelRe.FindAllStringSubmatchIndex(text, -1) {
		spans = append(spans, span{start: m[0], end: m[1], url: text[m[2]:m[3]]})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var segments []Segment
	appendText := func(chunk string) {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			segments = append(segments, Segment{Kind: SegmentText, Value: chunk})
		}
	}
	cursor := 0
	for _, sp := range spans {
		if sp.start < cursor {
			// Overlap between the two conventions; first match wins.
			continue
		}
		appendText(text[cursor:sp.start])
		segments = append(segments, Segment{Kind: SegmentImage, Value: sp.url})
		cursor = sp.end
	}
	appendText(text[cursor:])
	return segments
}
