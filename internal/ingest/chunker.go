// Package ingest implements the batch job that chunks HR policy documents,
// embeds them, and upserts them into the evidence store.
package ingest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"acme.com/hr-assistant/internal/store"
)

// HR policy documents number their sections like "3. LEAVE POLICY:".
var sectionHeading = regexp.MustCompile(`^(\d+)\.\s+([A-Z\s&]+):`)

var splitSeparators = []string{"\n\n", "\n", ". ", " "}

// Section is a numbered portion of a policy document.
type Section struct {
	Number  int
	Title   string
	Content string
}

// DetectSections splits a document on numbered ALL-CAPS headings. A document
// without headings becomes a single "Document" section.
func DetectSections(text string) []Section {
	var sections []Section
	var current *Section
	var lines []string

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(strings.Join(lines, "\n"))
			sections = append(sections, *current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			num, _ := strconv.Atoi(m[1])
			current = &Section{Number: num, Title: strings.TrimSpace(m[2])}
			lines = []string{line}
			continue
		}
		if current != nil {
			lines = append(lines, line)
		}
	}
	flush()

	if len(sections) == 0 {
		sections = []Section{{Number: 1, Title: "Document", Content: text}}
	}
	return sections
}

// Chunker splits section content into bounded-length overlapping chunks,
// preferring paragraph, line, and sentence boundaries in that order.
type Chunker struct {
	Size    int // max characters per chunk
	Overlap int // characters carried over between adjacent chunks
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 50
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// ChunkDocument detects sections and chunks each one. Chunk IDs are derived
// from the file stem, section number, and chunk index, so unchanged content
// re-ingests under the same IDs.
func (c *Chunker) ChunkDocument(text, fileName string) []store.EvidenceChunk {
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	var all []store.EvidenceChunk
	for _, section := range DetectSections(text) {
		var pieces []string
		if len(section.Content) <= c.Size {
			pieces = []string{section.Content}
		} else {
			pieces = c.splitText(section.Content)
		}

		for idx, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			all = append(all, store.EvidenceChunk{
				ID:   fmt.Sprintf("%s_s%d_c%d", stem, section.Number, idx),
				Text: piece,
				Metadata: store.ChunkMetadata{
					SourceFile:    fileName,
					SectionTitle:  section.Title,
					SectionNumber: section.Number,
					ChunkIndex:    idx,
					TotalChunks:   len(pieces),
				},
			})
		}
	}
	return all
}

func (c *Chunker) splitText(text string) []string {
	return c.splitRecursive(text, splitSeparators)
}

// splitRecursive greedily packs pieces split on the first separator into
// chunks of at most Size characters, recursing to finer separators for
// pieces that are themselves too large.
func (c *Chunker) splitRecursive(text string, seps []string) []string {
	if len(text) <= c.Size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	if len(seps) == 0 {
		return c.splitBySize(text)
	}

	pieces := strings.SplitAfter(text, seps[0])
	if len(pieces) == 1 {
		return c.splitRecursive(text, seps[1:])
	}

	var chunks []string
	var cur strings.Builder
	seedLen := 0 // portion of cur that is only carried-over overlap
	emit := func() {
		chunk := strings.TrimSpace(cur.String())
		cur.Reset()
		seedLen = 0
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		if c.Overlap > 0 && len(chunk) > c.Overlap {
			cur.WriteString(chunk[len(chunk)-c.Overlap:])
			cur.WriteString(" ")
			seedLen = cur.Len()
		}
	}

	for _, piece := range pieces {
		if len(piece) > c.Size {
			// Recurse with the buffered prefix attached so a short fragment
			// (a bare heading line, say) never becomes its own tiny chunk.
			rest := cur.String() + piece
			cur.Reset()
			seedLen = 0
			chunks = append(chunks, c.splitRecursive(rest, seps[1:])...)
			continue
		}
		if cur.Len()+len(piece) > c.Size && cur.Len() > seedLen {
			emit()
		}
		cur.WriteString(piece)
	}
	// flush, but not a chunk that is nothing beyond the overlap seed
	if cur.Len() > seedLen {
		if chunk := strings.TrimSpace(cur.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (c *Chunker) splitBySize(text string) []string {
	step := c.Size - c.Overlap
	if step <= 0 {
		step = c.Size
	}
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + c.Size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}
