// Package chunker splits page text into paragraph-aligned chunks.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"vector-search/internal/models"
)

const (
	DefaultMinChunkSize = 100
	DefaultMaxChunkSize = 1000

	paragraphSeparator = "\n\n"
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Chunker holds the size policy. Lengths are counted in characters.
// A paragraph is never split: one larger than Max forms its own chunk.
type Chunker struct {
	Min int
	Max int
}

// Dropped counts content discarded by the min-size gate
type Dropped struct {
	Chunks int
	Pages  int
}

// New returns a chunker, falling back to the defaults for non-positive sizes
func New(minSize, maxSize int) *Chunker {
	if minSize <= 0 {
		minSize = DefaultMinChunkSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	return &Chunker{Min: minSize, Max: maxSize}
}

// Paragraphs splits text on blank lines, trimming each paragraph and
// dropping the empty ones
func Paragraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Chunk segments a single page. Chunks are numbered from 1.
func (c *Chunker) Chunk(page models.Page) []models.Chunk {
	chunks, _ := c.chunk(page)
	return chunks
}

// ChunkPages chunks every page in order and counts what the min-size gate dropped
func (c *Chunker) ChunkPages(pages []models.Page) ([]models.Chunk, Dropped) {
	var (
		all     []models.Chunk
		dropped Dropped
	)
	for _, page := range pages {
		chunks, n := c.chunk(page)
		dropped.Chunks += n
		if len(chunks) == 0 {
			dropped.Pages++
		}
		all = append(all, chunks...)
	}
	return all, dropped
}

func (c *Chunker) chunk(page models.Page) ([]models.Chunk, int) {
	var (
		texts   []string
		dropped int
		buf     strings.Builder
		size    int
	)

	flush := func() {
		if size == 0 {
			return
		}
		if size >= c.Min {
			texts = append(texts, buf.String())
		} else {
			dropped++
		}
		buf.Reset()
		size = 0
	}

	sepSize := utf8.RuneCountInString(paragraphSeparator)
	for _, para := range Paragraphs(page.Text) {
		n := utf8.RuneCountInString(para)
		// the joining separator counts toward Max
		if size > 0 && size+sepSize+n > c.Max {
			flush()
		}
		if size > 0 {
			buf.WriteString(paragraphSeparator)
			size += sepSize
		}
		buf.WriteString(para)
		size += n
	}
	flush()

	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, models.Chunk{
			Text:           text,
			SourceFilename: page.SourceFilename,
			PageNumber:     page.Number,
			Index:          i + 1,
			Size:           utf8.RuneCountInString(text),
		})
	}
	return chunks, dropped
}
