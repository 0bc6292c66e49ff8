package enrich

import (
	"regexp"
	"strings"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 1
)

var sentenceSplitter = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)

// Chunker groups sentences into chunks of at most size characters. The last
// overlap sentences of a chunk are repeated at the start of the next one.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) sentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var out []string
	for _, s := range sentenceSplitter.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, c.split(s)...)
	}
	return out
}

// split cuts a sentence longer than the chunk size on rune boundaries
func (c *Chunker) split(s string) []string {
	runes := []rune(s)
	if len(runes) <= c.size {
		return []string{s}
	}
	var parts []string
	for len(runes) > 0 {
		n := min(c.size, len(runes))
		parts = append(parts, strings.TrimSpace(string(runes[:n])))
		runes = runes[n:]
	}
	return parts
}

// Split returns the chunks of text in reading order
func (c *Chunker) Split(text string) []string {
	sentences := c.sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	length := 0
	for _, s := range sentences {
		n := len([]rune(s))
		if len(current) > 0 && length+n > c.size {
			chunks = append(chunks, strings.Join(current, " "))

			keep := min(c.overlap, len(current))
			// drop the overlap when it would not leave room for the next sentence
			carried := current[len(current)-keep:]
			current = nil
			length = 0
			for _, prev := range carried {
				m := len([]rune(prev))
				if length+m+1+n > c.size {
					break
				}
				current = append(current, prev)
				length += m + 1
			}
		}
		current = append(current, s)
		length += n + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
