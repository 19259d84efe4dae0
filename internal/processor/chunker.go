package processor

import (
	"regexp"
	"strings"
)

// Defaults for chunking.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)

// splitText picks a chunker by extension: markdown gets a
// heading-aware splitter, everything else the recursive character
// splitter. Both honor size and overlap.
func splitText(ext, text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}

	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return splitMarkdown(text, size, overlap)
	default:
		return splitRecursive(text, size, overlap)
	}
}

// splitMarkdown cuts the document at ATX headings and packs whole
// sections greedily into chunks. A section larger than the chunk size
// falls back to the recursive splitter, so heading boundaries are
// preserved wherever they fit.
func splitMarkdown(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sections := splitSections(text)

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, section := range sections {
		if len(section) > size {
			flush()
			chunks = append(chunks, splitRecursive(section, size, overlap)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(section)+1 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(section)
	}
	flush()

	return chunks
}

// splitSections splits markdown at heading lines; the heading stays
// with the content that follows it. A document without headings is a
// single section.
func splitSections(text string) []string {
	locs := headingPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sections []string
	appendSection := func(s string) {
		if strings.TrimSpace(s) != "" {
			sections = append(sections, strings.TrimRight(s, "\n"))
		}
	}

	if locs[0][0] > 0 {
		appendSection(text[:locs[0][0]])
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		appendSection(text[loc[0]:end])
	}
	return sections
}

// recursive splitter separators, coarsest first.
var separators = []string{"\n\n", "\n", " "}

// splitRecursive splits text into chunks of at most size characters,
// preferring paragraph, then line, then word boundaries, with the
// configured overlap carried between adjacent chunks.
func splitRecursive(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	sep := ""
	for _, candidate := range separators {
		if strings.Contains(text, candidate) {
			sep = candidate
			break
		}
	}

	if sep == "" {
		return hardSplit(text, size, overlap)
	}

	var units []string
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) > size {
			units = append(units, splitRecursive(piece, size, overlap)...)
		} else {
			units = append(units, piece)
		}
	}
	return mergeUnits(units, sep, size, overlap)
}

// mergeUnits packs units into chunks up to size, then seeds each new
// chunk with trailing units of the previous one up to overlap.
func mergeUnits(units []string, sep string, size, overlap int) []string {
	var chunks []string
	var current []string
	currentLen := 0

	joinLen := func(n, unitLen int) int {
		if n == 0 {
			return unitLen
		}
		return unitLen + len(sep)
	}

	for _, unit := range units {
		add := joinLen(len(current), len(unit))
		if currentLen+add > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, sep))

			// Carry the tail forward as overlap.
			var kept []string
			keptLen := 0
			for i := len(current) - 1; i >= 0; i-- {
				l := joinLen(len(kept), len(current[i]))
				if keptLen+l > overlap {
					break
				}
				kept = append([]string{current[i]}, kept...)
				keptLen += l
			}
			current = kept
			currentLen = keptLen
			add = joinLen(len(current), len(unit))
		}
		current = append(current, unit)
		currentLen += add
	}

	if len(current) > 0 {
		chunk := strings.Join(current, sep)
		// Avoid emitting a pure-overlap trailer that adds no content.
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], chunk) {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// hardSplit cuts at fixed offsets when no separator exists.
func hardSplit(text string, size, overlap int) []string {
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
