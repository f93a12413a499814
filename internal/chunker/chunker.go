// Package chunker splits normalized page text into heading-aware,
// token-bounded chunks with overlap, ready for embedding.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"wikirag/internal/config"
)

// Options mirrors config.ChunkerConfig; kept separate so callers outside
// internal/config can construct a Chunker without importing it.
type Options struct {
	Target  int
	Min     int
	Max     int
	Overlap int
}

func OptionsFromConfig(c config.ChunkerConfig) Options {
	return Options{Target: c.TargetTokens, Min: c.MinTokens, Max: c.MaxTokens, Overlap: c.OverlapTokens}
}

// Chunk is a single chunker output, not yet assigned a page id or
// embedding.
type Chunk struct {
	ID          string
	HeadingPath string
	ChunkIndex  int
	Text        string
	TokenCount  int
}

// Chunker splits text into Chunks using a fixed BPE-compatible tokenizer.
type Chunker struct {
	opts Options
	enc  *tiktoken.Tiktoken
}

// New builds a Chunker whose tokenizer matches the given embedding model
// family (falling back to cl100k_base, the OpenAI-compatible default).
func New(opts Options, embeddingModel string) (*Chunker, error) {
	enc, err := tiktoken.EncodingForModel(embeddingModel)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &Chunker{opts: opts, enc: enc}, nil
}

type section struct {
	headingPath string
	body        string
}

var headingLineRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

type headingFrame struct {
	level int
	title string
}

// sectionize splits text into sections delimited by markdown headings,
// using a level stack: pushing (level, title) after popping any entries
// with level >= the new heading's level.
func sectionize(text string) []section {
	lines := strings.Split(text, "\n")
	var stack []headingFrame
	var sections []section
	var buf strings.Builder

	flush := func() {
		body := strings.TrimSpace(buf.String())
		if body == "" {
			return
		}
		path := make([]string, len(stack))
		for i, f := range stack {
			path[i] = f.title
		}
		sections = append(sections, section{headingPath: strings.Join(path, " > "), body: body})
		buf.Reset()
	}

	for _, line := range lines {
		if m := headingLineRe.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingFrame{level: level, title: title})
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return sections
}

var sentenceBoundaryRe = regexp.MustCompile(`[.?!]\s\n?`)

// Chunk implements the algorithm: sectionize by heading, tokenize each
// section, emit it whole if it fits in Max tokens, otherwise slide a
// Target-token window, shrinking to the last sentence or whitespace
// boundary, and starting the next window Overlap tokens before the end of
// the shrunk one.
func (c *Chunker) Chunk(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sections := sectionize(text)
	if len(sections) == 0 {
		sections = []section{{headingPath: "", body: text}}
	}

	var out []Chunk
	idx := 0
	for _, sec := range sections {
		tokens := c.enc.Encode(sec.body, nil, nil)
		if len(tokens) <= c.opts.Max {
			out = append(out, c.emit(sec.headingPath, sec.body, len(tokens), &idx))
			continue
		}
		out = append(out, c.slideWindow(sec, tokens, &idx)...)
	}
	return out
}

func (c *Chunker) slideWindow(sec section, tokens []int, idx *int) []Chunk {
	var out []Chunk
	pos := 0
	n := len(tokens)
	for pos < n {
		end := pos + c.opts.Target
		if end > n {
			end = n
		}
		windowText := c.enc.Decode(tokens[pos:end])
		isFinal := end >= n

		shrunk, shrunkEnd := c.shrinkToBoundary(windowText, tokens, pos, end)
		text := shrunk
		windowTokens := shrunkEnd - pos

		if windowTokens >= c.opts.Min || isFinal {
			out = append(out, c.emit(sec.headingPath, text, windowTokens, idx))
		}

		next := shrunkEnd - c.opts.Overlap
		if next <= pos || n-next < c.opts.Min {
			next = shrunkEnd
		}
		pos = next
	}
	return out
}

// shrinkToBoundary trims windowText to the last sentence boundary past
// 50% of its length, or the last whitespace boundary past 80% if no
// sentence boundary exists, and returns the corresponding token end
// offset within the original token slice.
func (c *Chunker) shrinkToBoundary(windowText string, tokens []int, pos, end int) (string, int) {
	if end >= len(tokens) {
		return windowText, end // final window: no shrinking
	}

	half := len(windowText) / 2
	if loc := lastMatchAfter(sentenceBoundaryRe, windowText, half); loc >= 0 {
		trimmed := windowText[:loc]
		return trimmed, pos + len(c.enc.Encode(trimmed, nil, nil))
	}

	eighty := int(float64(len(windowText)) * 0.8)
	if idx := strings.LastIndexAny(windowText[eighty:], " \t\n"); idx >= 0 {
		cut := eighty + idx
		trimmed := windowText[:cut]
		return trimmed, pos + len(c.enc.Encode(trimmed, nil, nil))
	}

	return windowText, end
}

// lastMatchAfter returns the end offset of the last regex match that
// starts at or after minStart, or -1 if none.
func lastMatchAfter(re *regexp.Regexp, s string, minStart int) int {
	matches := re.FindAllStringIndex(s, -1)
	best := -1
	for _, m := range matches {
		if m[0] >= minStart {
			best = m[1]
		}
	}
	return best
}

func (c *Chunker) emit(headingPath, text string, tokenCount int, idx *int) Chunk {
	ch := Chunk{
		ID:          uuid.NewString(),
		HeadingPath: headingPath,
		ChunkIndex:  *idx,
		Text:        strings.TrimSpace(text),
		TokenCount:  tokenCount,
	}
	*idx++
	return ch
}
