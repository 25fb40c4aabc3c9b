package timing

import (
	"strings"
	"unicode"
)

// wordSpan marks one whitespace-delimited run of characters within a block,
// as half-open [start, end) character indexes.
type wordSpan struct {
	start int
	end   int
}

// scanWords finds all whitespace-delimited word spans in text. Blocks are
// independent chunks of the document, so boundaries are computed per block
// from scratch.
func scanWords(text string) []wordSpan {
	runes := []rune(text)
	var words []wordSpan

	i := 0
	for i < len(runes) {
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		words = append(words, wordSpan{start: start, end: i})
	}

	return words
}

// wordIndexAt maps a character index to the index of its containing word.
// Indexes that land on whitespace snap to the nearest word to the right, then
// to the left. Returns -1 when the block holds no words.
func wordIndexAt(words []wordSpan, textLen, charIndex int) int {
	if len(words) == 0 || textLen == 0 {
		return -1
	}
	if charIndex < 0 {
		charIndex = 0
	}
	if charIndex >= textLen {
		charIndex = textLen - 1
	}

	for i, w := range words {
		if charIndex < w.start {
			return i // nearest word to the right
		}
		if charIndex < w.end {
			return i
		}
	}
	return len(words) - 1 // trailing whitespace snaps left
}

// highlightWindow builds the display text around the word at widx: up to
// before words of leading context and after words of trailing context, with
// the highlighted word's offsets relative to the returned window.
func highlightWindow(text string, words []wordSpan, widx, before, after int) (window string, start, end int) {
	if widx < 0 || widx >= len(words) {
		return "", -1, -1
	}

	firstWord := widx - before
	if firstWord < 0 {
		firstWord = 0
	}
	lastWord := widx + after
	if lastWord > len(words)-1 {
		lastWord = len(words) - 1
	}

	runes := []rune(text)
	segStart := words[firstWord].start
	segEnd := words[lastWord].end
	window = string(runes[segStart:segEnd])
	start = words[widx].start - segStart
	end = words[widx].end - segStart
	return window, start, end
}

// joinChars assembles a block's character sequence into its text.
func joinChars(chars []string) string {
	return strings.Join(chars, "")
}
