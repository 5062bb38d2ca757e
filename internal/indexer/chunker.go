package indexer

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in runes when none is configured.
const DefaultChunkSize = 1000

// SplitIntoChunks breaks text into pieces of at most maxRunes runes. Sentences
// (ending in '.', '!' or '?') are packed greedily. A sentence that is too long
// on its own is split on whitespace, and a single word that is still too long
// is cut at the rune limit. Whitespace inside a chunk is collapsed to single spaces.
func SplitIntoChunks(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultChunkSize
	}
	b := &chunkBuilder{max: maxRunes}
	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxRunes {
			b.add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for _, piece := range hardSplit(word, maxRunes) {
				b.add(piece)
			}
		}
	}
	return b.finish()
}

func splitSentences(text string) []string {
	var sentences []string
	emit := func(s string) {
		if f := strings.Fields(s); len(f) > 0 {
			sentences = append(sentences, strings.Join(f, " "))
		}
	}
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			emit(text[start : i+1])
			start = i + 1
		}
	}
	emit(text[start:])
	return sentences
}

func hardSplit(word string, maxRunes int) []string {
	if utf8.RuneCountInString(word) <= maxRunes {
		return []string{word}
	}
	runes := []rune(word)
	pieces := make([]string, 0, len(runes)/maxRunes+1)
	for len(runes) > maxRunes {
		pieces = append(pieces, string(runes[:maxRunes]))
		runes = runes[maxRunes:]
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}

type chunkBuilder struct {
	max    int
	chunks []string
	cur    strings.Builder
	curLen int
}

// add appends a piece no longer than max, starting a new chunk when it would overflow.
func (b *chunkBuilder) add(piece string) {
	n := utf8.RuneCountInString(piece)
	if b.curLen > 0 && b.curLen+1+n > b.max {
		b.flush()
	}
	if b.curLen > 0 {
		b.cur.WriteByte(' ')
		b.curLen++
	}
	b.cur.WriteString(piece)
	b.curLen += n
}

func (b *chunkBuilder) flush() {
	if b.curLen == 0 {
		return
	}
	b.chunks = append(b.chunks, b.cur.String())
	b.cur.Reset()
	b.curLen = 0
}

func (b *chunkBuilder) finish() []string {
	b.flush()
	return b.chunks
}
