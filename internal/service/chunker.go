package service

import (
	"strings"
)

// Chunk is one embeddable slice of a content item. Chunks form a
// two-level hierarchy: section chunks carry the coarse representation
// of a heading's whole body, paragraph chunks carry the fine-grained
// text under them. ParentIndex points at the owning section chunk, or
// -1 for top-level chunks.
type Chunk struct {
	Index        int
	Text         string
	ChunkType    string // document, section or paragraph
	Level        int
	ParentIndex  int
	SectionTitle string
	TokenCount   int
	HasCode      bool
	HasTable     bool
	HasList      bool
}

const (
	chunkTypeDocument  = "document"
	chunkTypeSection   = "section"
	chunkTypeParagraph = "paragraph"
)

// Chunker splits content text into hierarchical chunks bounded by a
// token budget.
type Chunker struct {
	maxTokens int
}

// NewChunker creates a Chunker. maxTokens bounds the token count of any
// produced chunk; values below 1 fall back to 480.
func NewChunker(maxTokens int) *Chunker {
	if maxTokens < 1 {
		maxTokens = 480
	}
	return &Chunker{maxTokens: maxTokens}
}

// Split chunks a content item's text. Short content becomes a single
// document chunk. Longer content is cut along markdown headings into
// section chunks, each followed by its paragraph chunks; content with
// no headings becomes a flat list of paragraph chunks.
func (c *Chunker) Split(title, body string) []Chunk {
	text := strings.TrimSpace(body)
	if title != "" {
		text = strings.TrimSpace(title + "\n\n" + text)
	}
	if text == "" {
		return nil
	}

	if countTokens(text) <= c.maxTokens {
		return []Chunk{c.makeChunk(0, text, chunkTypeDocument, 0, -1, title)}
	}

	sections := splitSections(text)
	var chunks []Chunk

	if len(sections) == 1 && sections[0].title == "" {
		// No headings: flat paragraph chunks.
		for _, para := range c.packParagraphs(sections[0].body) {
			chunks = append(chunks, c.makeChunk(len(chunks), para, chunkTypeParagraph, 0, -1, title))
		}
		return chunks
	}

	for _, sec := range sections {
		sectionTitle := sec.title
		if sectionTitle == "" {
			sectionTitle = title
		}

		sectionText := sec.body
		if sec.title != "" {
			sectionText = sec.title + "\n\n" + sec.body
		}

		parentIndex := len(chunks)
		chunks = append(chunks, c.makeChunk(parentIndex, truncateTokens(sectionText, c.maxTokens), chunkTypeSection, 0, -1, sectionTitle))

		for _, para := range c.packParagraphs(sec.body) {
			chunks = append(chunks, c.makeChunk(len(chunks), para, chunkTypeParagraph, 1, parentIndex, sectionTitle))
		}
	}

	return chunks
}

func (c *Chunker) makeChunk(index int, text, chunkType string, level, parentIndex int, sectionTitle string) Chunk {
	return Chunk{
		Index:        index,
		Text:         text,
		ChunkType:    chunkType,
		Level:        level,
		ParentIndex:  parentIndex,
		SectionTitle: sectionTitle,
		TokenCount:   countTokens(text),
		HasCode:      strings.Contains(text, "```"),
		HasTable:     hasTable(text),
		HasList:      hasList(text),
	}
}

// packParagraphs splits text on blank lines and greedily packs adjacent
// paragraphs into chunks that stay within the token budget. A single
// paragraph over budget is hard-cut.
func (c *Chunker) packParagraphs(text string) []string {
	paragraphs := splitParagraphs(text)

	var packed []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			packed = append(packed, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range paragraphs {
		tokens := countTokens(para)
		if tokens > c.maxTokens {
			flush()
			packed = append(packed, truncateTokens(para, c.maxTokens))
			continue
		}
		if currentTokens+tokens > c.maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += tokens
	}
	flush()

	return packed
}

type section struct {
	title string
	body  string
}

// splitSections cuts text at markdown headings. Text before the first
// heading becomes an untitled section.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var title string
	var body []string
	inCode := false

	flush := func() {
		joined := strings.TrimSpace(strings.Join(body, "\n"))
		if joined != "" || title != "" {
			sections = append(sections, section{title: title, body: joined})
		}
		body = body[:0]
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
		}
		if !inCode && isHeading(line) {
			flush()
			title = strings.TrimSpace(strings.TrimLeft(line, "# "))
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(sections) == 0 {
		return []section{{body: strings.TrimSpace(text)}}
	}
	return sections
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	rest := strings.TrimLeft(trimmed, "#")
	return strings.HasPrefix(rest, " ") && strings.TrimSpace(rest) != ""
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}

// countTokens approximates token count by whitespace-separated words.
// Good enough for budget enforcement; exact tokenizer counts belong to
// the model endpoint.
func countTokens(text string) int {
	return len(strings.Fields(text))
}

// truncateTokens cuts text to at most max tokens.
func truncateTokens(text string, max int) string {
	fields := strings.Fields(text)
	if len(fields) <= max {
		return text
	}
	return strings.Join(fields[:max], " ")
}

func hasTable(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2 {
			return true
		}
	}
	return false
}

func hasList(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			return true
		}
		if len(trimmed) > 2 && trimmed[0] >= '0' && trimmed[0] <= '9' && strings.HasPrefix(trimmed[1:], ". ") {
			return true
		}
	}
	return false
}
