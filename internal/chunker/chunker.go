// Package chunker splits crawled page content into ordered, header-scoped
// chunks suitable for embedding. Markdown input is split on headings and
// further divided by paragraph boundaries so no chunk exceeds a soft size
// limit; non-markdown input is treated as a single chunk.
package chunker

import (
	"regexp"
	"strings"
)

// softMaxChunkBytes bounds the size of a single markdown chunk before it is
// split further on paragraph boundaries. ~3KB keeps chunks well inside most
// embedding models' max input while still carrying useful context.
const softMaxChunkBytes = 3000

// Piece is one chunk: a contiguous slice of text plus the most recent
// heading context.
type Piece struct {
	// Index is the zero-based position of this chunk within the document.
	Index int
	// Header is the nearest preceding markdown heading, or "" if none.
	Header string
	// Text is the chunk's content.
	Text string
}

var (
	reHeading      = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+?)\s*$`)
	reBlankRun     = regexp.MustCompile(`\n{3,}`)
	reHTMLLikeness = regexp.MustCompile(`(?i)<html|<!DOCTYPE`)
)

// looksLikeMarkdown reports whether text should be treated as markdown for
// chunking purposes: it has at least one ATX heading and is not an HTML
// document.
func looksLikeMarkdown(text string) bool {
	if reHTMLLikeness.MatchString(text) {
		return false
	}
	return reHeading.MatchString(text)
}

// Chunk splits text into an ordered sequence of chunks.
//
// Markdown input (detected by the presence of ATX headings) is split at
// each heading boundary; the chunk carries the heading text as its Header.
// Any heading section still larger than the soft size limit is further
// divided on paragraph (blank-line) boundaries. Non-markdown input —
// including HTML, which is passed through untouched for the caller's own
// stripping — becomes a single chunk with no header.
//
// Leading/trailing whitespace is trimmed, runs of 3+ newlines are collapsed
// to a double newline, and empty chunks are dropped. An empty or
// whitespace-only input yields no chunks at all.
func Chunk(text string) []Piece {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	if !looksLikeMarkdown(normalized) {
		return []Piece{{Index: 0, Header: "", Text: normalized}}
	}

	sections := splitByHeading(normalized)

	var chunks []Piece
	for _, sec := range sections {
		for _, part := range splitBySize(sec.text, softMaxChunkBytes) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			chunks = append(chunks, Piece{Index: len(chunks), Header: sec.header, Text: part})
		}
	}

	if len(chunks) == 0 && normalized != "" {
		chunks = append(chunks, Piece{Index: 0, Header: "", Text: normalized})
	}

	return chunks
}

// normalize trims surrounding whitespace and collapses excessive blank lines.
func normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return reBlankRun.ReplaceAllString(text, "\n\n")
}

// headingSection is one heading-delimited slice of a markdown document.
type headingSection struct {
	header string
	text   string
}

// splitByHeading breaks text at each ATX heading line, attaching the most
// recent heading (without its leading "#"s) to the section that follows it.
// Content before the first heading is kept as a headerless section.
func splitByHeading(text string) []headingSection {
	locs := reHeading.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []headingSection{{header: "", text: text}}
	}

	var sections []headingSection
	if locs[0][0] > 0 {
		pre := strings.TrimSpace(text[:locs[0][0]])
		if pre != "" {
			sections = append(sections, headingSection{header: "", text: pre})
		}
	}

	for i, loc := range locs {
		header := text[loc[4]:loc[5]]
		bodyStart := loc[1]
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := strings.TrimSpace(text[bodyStart:bodyEnd])
		sections = append(sections, headingSection{header: header, text: body})
	}

	return sections
}

// splitBySize divides text on paragraph (blank-line) boundaries, packing
// consecutive paragraphs into parts no larger than maxBytes where possible.
// A single paragraph larger than maxBytes is kept whole rather than split
// mid-sentence.
func splitBySize(text string, maxBytes int) []string {
	if len(text) <= maxBytes {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var parts []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+len(p)+2 > maxBytes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()

	return parts
}
