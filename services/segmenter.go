package services

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Segment is one bounded piece of a source document, ready for embedding.
type Segment struct {
	Ordinal int
	Text    string
}

// Segmenter splits document text into overlapping segments, preferring
// paragraph boundaries and falling back to sentence boundaries for overlap.
type Segmenter struct {
	maxSize        int
	overlap        int
	minSize        int
	sentenceRegex  *regexp.Regexp
	paragraphRegex *regexp.Regexp
}

func NewSegmenter(maxSize, overlap, minSize int) *Segmenter {
	return &Segmenter{
		maxSize:        maxSize,
		overlap:        overlap,
		minSize:        minSize,
		sentenceRegex:  regexp.MustCompile(`[.!?]+[\s]+|[。！？]+`),
		paragraphRegex: regexp.MustCompile(`\n\n+`),
	}
}

// Segment splits text into ordered segments. Whitespace-only input yields nil.
// Ordinals are assigned contiguously from zero.
func (s *Segmenter) Segment(text string) []Segment {
	paragraphs := filterEmpty(s.paragraphRegex.Split(text, -1))
	if len(paragraphs) == 0 {
		return nil
	}

	var segments []Segment
	current := new(strings.Builder)
	currentSize := 0
	ordinal := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		segments = append(segments, Segment{Ordinal: ordinal, Text: current.String()})
		ordinal++
	}

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if len(paragraph) == 0 {
			continue
		}

		// Oversized paragraphs get split on sentence boundaries first.
		for _, piece := range s.splitOversized(paragraph) {
			pieceSize := len(piece)

			if currentSize+pieceSize > s.maxSize && currentSize >= s.minSize {
				flush()
				carried := s.overlapText(current.String())
				current = new(strings.Builder)
				currentSize = 0
				if carried != "" {
					current.WriteString(carried)
					currentSize = len(carried)
				}
			}

			if current.Len() > 0 {
				current.WriteString("\n\n")
				currentSize += 2
			}
			current.WriteString(piece)
			currentSize += pieceSize
		}
	}

	flush()
	return segments
}

// splitOversized breaks a paragraph larger than maxSize into sentence-aligned
// pieces, hard-splitting any single sentence that is itself too large.
func (s *Segmenter) splitOversized(paragraph string) []string {
	if len(paragraph) <= s.maxSize {
		return []string{paragraph}
	}

	sentences := s.sentenceRegex.Split(paragraph, -1)
	sentences = filterEmpty(sentences)

	var pieces []string
	current := new(strings.Builder)
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		for len(sentence) > s.maxSize {
			cut := runeBoundaryBefore(sentence, s.maxSize)
			pieces = append(pieces, sentence[:cut])
			sentence = sentence[cut:]
		}
		if current.Len() > 0 && current.Len()+len(sentence)+2 > s.maxSize {
			pieces = append(pieces, current.String())
			current = new(strings.Builder)
		}
		if current.Len() > 0 {
			current.WriteString(". ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	if len(pieces) == 0 {
		return []string{paragraph}
	}
	return pieces
}

// overlapText extracts the trailing portion of the previous segment to carry
// into the next one, preferring a sentence boundary over a raw byte cut.
func (s *Segmenter) overlapText(text string) string {
	if s.overlap <= 0 {
		return ""
	}
	if len(text) <= s.overlap {
		return text
	}

	cut := len(text) - s.overlap
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	tail := text[cut:]
	sentences := s.sentenceRegex.Split(tail, -1)
	sentences = filterEmpty(sentences)
	if len(sentences) > 1 {
		return strings.TrimSpace(strings.Join(sentences[1:], ". "))
	}
	return strings.TrimSpace(tail)
}

// runeBoundaryBefore returns the largest cut point at or below max that does
// not land inside a multi-byte rune.
func runeBoundaryBefore(text string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}

func filterEmpty(items []string) []string {
	filtered := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// WordCount reports the number of whitespace-separated words in a segment.
func (seg Segment) WordCount() int {
	return len(strings.Fields(seg.Text))
}
