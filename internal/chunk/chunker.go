// Package chunk splits markdown bodies into ordered, size-bounded,
// heading-aware chunks for indexing.
package chunk

import (
	"regexp"
	"strings"

	"github.com/vibemcp/vibemcp/internal/parser"
)

// MaxChunkChars is the upper character budget per chunk (~1500 tokens).
const MaxChunkChars = 6000

// priorityHeadings are heading texts that indicate status-of-record
// content and receive a search boost.
var priorityHeadings = map[string]struct{}{
	"current status": {},
	"next":           {},
	"next steps":     {},
	"blockers":       {},
	"blocked by":     {},
	"decisions":      {},
}

var (
	// Matches level 1 and 2 ATX headings.
	headingPattern = regexp.MustCompile(`(?m)^(#{1,2})\s+(.+)$`)

	// Paragraph boundary: one or more blank lines.
	paragraphPattern = regexp.MustCompile(`\n\n+`)

	hashPrefixPattern = regexp.MustCompile(`^#+\s*`)
)

// Chunk is a slice of a document body.
type Chunk struct {
	Heading      string // heading line including hashes, "" if none
	HeadingLevel int    // 1 or 2, 0 if none
	Content      string
	Order        int // zero-based position within the document
	CharOffset   int // offset of the section body into the unstripped body
	IsPriority   bool
}

// section is an intermediate heading-delimited span of the body.
type section struct {
	heading string
	level   int
	content string
	offset  int
}

// IsPriorityHeading reports whether a heading line names a priority
// section. The leading hashes and surrounding whitespace are ignored.
func IsPriorityHeading(heading string) bool {
	if heading == "" {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(hashPrefixPattern.ReplaceAllString(heading, "")))
	_, ok := priorityHeadings[text]
	return ok
}

// Split chunks a document by headings.
//
// Rules:
//  1. Sectionize by # and ## headings.
//  2. A section over MaxChunkChars is split at paragraph boundaries.
//  3. A paragraph over the budget is split at line boundaries.
//  4. A single line over the budget is truncated.
//
// Only the first sub-chunk of a split section carries the heading.
func Split(content string) []Chunk {
	body := parser.StripFrontmatter(content)
	sections := splitByHeadings(body)

	var chunks []Chunk
	order := 0

	for _, sec := range sections {
		if len(sec.content) <= MaxChunkChars {
			chunks = append(chunks, Chunk{
				Heading:      sec.heading,
				HeadingLevel: sec.level,
				Content:      sec.content,
				Order:        order,
				CharOffset:   sec.offset,
				IsPriority:   IsPriorityHeading(sec.heading),
			})
			order++
			continue
		}

		for i, sub := range splitByParagraphs(sec.content, MaxChunkChars) {
			c := Chunk{
				Content:    sub,
				Order:      order,
				CharOffset: sec.offset, // approximate for sub-chunks
			}
			if i == 0 {
				c.Heading = sec.heading
				c.HeadingLevel = sec.level
				c.IsPriority = IsPriorityHeading(sec.heading)
			}
			chunks = append(chunks, c)
			order++
		}
	}

	return chunks
}

// splitByHeadings splits content into sections delimited by level 1 and 2
// headings. Text before the first heading forms a headingless section.
func splitByHeadings(content string) []section {
	var sections []section

	lastEnd := 0
	lastHeading := ""
	lastLevel := 0

	for _, m := range headingPattern.FindAllStringSubmatchIndex(content, -1) {
		if m[0] > lastEnd {
			sectionContent := strings.TrimSpace(content[lastEnd:m[0]])
			if sectionContent != "" || lastHeading != "" {
				sections = append(sections, section{lastHeading, lastLevel, sectionContent, lastEnd})
			}
		}

		hashes := content[m[2]:m[3]]
		text := strings.TrimSpace(content[m[4]:m[5]])
		lastHeading = hashes + " " + text
		lastLevel = len(hashes)
		lastEnd = m[1] + 1 // past the newline
		if lastEnd > len(content) {
			lastEnd = len(content)
		}
	}

	if lastEnd < len(content) {
		sectionContent := strings.TrimSpace(content[lastEnd:])
		if sectionContent != "" || lastHeading != "" {
			sections = append(sections, section{lastHeading, lastLevel, sectionContent, lastEnd})
		}
	} else if lastHeading != "" && len(sections) == 0 {
		// Only a heading, no content after.
		sections = append(sections, section{lastHeading, lastLevel, "", lastEnd})
	}

	if len(sections) == 0 {
		sections = append(sections, section{"", 0, strings.TrimSpace(content), 0})
	}

	return sections
}

// splitByParagraphs packs paragraphs greedily into chunks of at most
// maxChars, flushing before a paragraph would overflow.
func splitByParagraphs(content string, maxChars int) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			currentLen = 0
		}
	}

	for _, para := range paragraphPattern.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitByLines(para, maxChars)...)
			continue
		}

		newLen := currentLen + len(para)
		if len(current) > 0 {
			newLen += 2
		}
		if newLen > maxChars && len(current) > 0 {
			flush()
		}

		current = append(current, para)
		currentLen += len(para)
		if len(current) > 1 {
			currentLen += 2
		}
	}

	flush()
	return chunks
}

// splitByLines packs lines into chunks of at most maxChars. A single line
// over the budget is hard-truncated.
func splitByLines(content string, maxChars int) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = nil
			currentLen = 0
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if len(line) > maxChars {
			flush()
			chunks = append(chunks, line[:maxChars])
			continue
		}

		newLen := currentLen + len(line)
		if len(current) > 0 {
			newLen++
		}
		if newLen > maxChars && len(current) > 0 {
			flush()
		}

		current = append(current, line)
		currentLen += len(line)
		if len(current) > 1 {
			currentLen++
		}
	}

	flush()
	return chunks
}
