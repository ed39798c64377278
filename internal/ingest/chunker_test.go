package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `1. INTRODUCTION:
Welcome to Acme Corp. This handbook covers our policies.

2. LEAVE POLICY:
Employees receive 20 days of annual leave and 10 sick days per year.

3. DRESS CODE & APPEARANCE:
Business casual attire applies on weekdays.`

func TestDetectSections(t *testing.T) {
	sections := DetectSections(samplePolicy)

	require.Len(t, sections, 3)
	assert.Equal(t, 1, sections[0].Number)
	assert.Equal(t, "INTRODUCTION", sections[0].Title)
	assert.Equal(t, 2, sections[1].Number)
	assert.Equal(t, "LEAVE POLICY", sections[1].Title)
	assert.Contains(t, sections[1].Content, "10 sick days")
	assert.Equal(t, "DRESS CODE & APPEARANCE", sections[2].Title)
}

func TestDetectSectionsWithoutHeadings(t *testing.T) {
	text := "Just a plain document with no numbered headings."
	sections := DetectSections(text)

	require.Len(t, sections, 1)
	assert.Equal(t, 1, sections[0].Number)
	assert.Equal(t, "Document", sections[0].Title)
	assert.Equal(t, text, sections[0].Content)
}

func TestChunkDocumentStableIDs(t *testing.T) {
	c := NewChunker(500, 50)

	first := c.ChunkDocument(samplePolicy, "hr_policy.txt")
	second := c.ChunkDocument(samplePolicy, "hr_policy.txt")

	require.NotEmpty(t, first)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
	assert.Equal(t, "hr_policy_s1_c0", first[0].ID)
	assert.Equal(t, "hr_policy.txt", first[0].Metadata.SourceFile)
}

func TestChunkDocumentBoundsChunkSize(t *testing.T) {
	var b strings.Builder
	b.WriteString("2. LEAVE POLICY:\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "Sentence number %d about the company leave policy. ", i)
	}

	c := NewChunker(200, 20)
	chunks := c.ChunkDocument(b.String(), "long.txt")

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), c.Size+c.Overlap+1, "chunk %s too long", chunk.ID)
		assert.NotEmpty(t, strings.TrimSpace(chunk.Text))
		assert.Equal(t, 2, chunk.Metadata.SectionNumber)
		assert.Equal(t, "LEAVE POLICY", chunk.Metadata.SectionTitle)
	}

	// adjacent chunks share overlapping text; a chunk shorter than the
	// overlap has no tail to carry
	if len(chunks[0].Text) > c.Overlap {
		tail := chunks[0].Text[len(chunks[0].Text)-c.Overlap:]
		assert.Contains(t, chunks[1].Text, strings.TrimSpace(tail))
	}
}

func TestChunkDocumentKeepsHeadingWithContent(t *testing.T) {
	var b strings.Builder
	b.WriteString("2. LEAVE POLICY:\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "Sentence number %d about the company leave policy. ", i)
	}

	c := NewChunker(200, 20)
	chunks := c.ChunkDocument(b.String(), "long.txt")

	require.Greater(t, len(chunks), 1)
	// the heading line stays attached to the first content chunk instead of
	// being flushed as a tiny chunk of its own
	assert.Contains(t, chunks[0].Text, "2. LEAVE POLICY:")
	assert.Greater(t, len(chunks[0].Text), len("2. LEAVE POLICY:"))
	for _, chunk := range chunks {
		assert.Greater(t, len(chunk.Text), c.Overlap, "chunk %s is a bare fragment", chunk.ID)
	}
}

func TestChunkDocumentIndexesPerSection(t *testing.T) {
	c := NewChunker(500, 50)
	chunks := c.ChunkDocument(samplePolicy, "hr_policy.txt")

	for _, chunk := range chunks {
		assert.Equal(t, fmt.Sprintf("hr_policy_s%d_c%d", chunk.Metadata.SectionNumber, chunk.Metadata.ChunkIndex), chunk.ID)
	}
}

func TestSplitBySizeHandlesNoSeparators(t *testing.T) {
	c := NewChunker(10, 2)
	out := c.splitBySize("abcdefghijklmnopqrstuvwxyz")

	require.NotEmpty(t, out)
	for _, piece := range out {
		assert.LessOrEqual(t, len(piece), 10)
	}
	assert.True(t, strings.HasSuffix(out[len(out)-1], "z"))
}
