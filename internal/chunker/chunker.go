// Package chunker splits long report text into overlapping windows for translation and
// embedding.
package chunker

import (
	"strings"
)

// DefaultSize is the default window size in characters.
const DefaultSize = 10000

// DefaultOverlapPercent is the default overlap between neighbouring windows, as a
// percentage of the window size.
const DefaultOverlapPercent = 2

// defaultSeparators are tried in order; earlier entries are preferred cut points.
var defaultSeparators = []string{"\n\n", ". ", "? ", "! ", "\n", " "}

// Window is one slice of the input text.
type Window struct {
	Index int
	Text  string
	// Start and End are rune offsets of the untrimmed window in the input.
	Start int
	End   int
}

// Chunker splits text into windows of at most Size characters.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the maximum window size in characters.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between windows in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparators replaces the preferred cut points, most preferred first.
func WithSeparators(separators ...string) Option {
	return func(c *Chunker) {
		if len(separators) > 0 {
			c.separators = separators
		}
	}
}

// New creates a Chunker. Without WithOverlap the overlap is DefaultOverlapPercent of the size.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:       DefaultSize,
		overlap:    -1,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap < 0 {
		c.overlap = c.size * DefaultOverlapPercent / 100
	}
	// Overlap must leave room for progress.
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the maximum window size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap between neighbouring windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the windows of text in order. Blank windows are dropped and the remaining
// windows are indexed from 0 without gaps.
func (c *Chunker) Split(text string) []Window {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var windows []Window
	start := 0
	for start < n {
		end := n
		if n-start > c.size {
			end = c.cut(runes, start)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			windows = append(windows, Window{
				Index: len(windows),
				Text:  chunk,
				Start: start,
				End:   end,
			})
		}
		if end >= n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// cut picks the end of the window starting at start. It looks for the most preferred
// separator in the second half of the window and falls back to a hard cut at the size limit.
func (c *Chunker) cut(runes []rune, start int) int {
	limit := start + c.size
	floor := start + c.size/2
	window := string(runes[start:limit])

	for _, sep := range c.separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		// Convert the byte offset of the separator end into a rune offset.
		end := start + len([]rune(window[:idx+len(sep)]))
		if end > floor && end <= limit {
			return end
		}
	}
	return limit
}
