package lexical

import (
	"strings"
	"unicode"
)

// stopWords are filtered from both documents and queries. The list mixes
// English function words with common Chinese particles, since chat text in
// the wild freely mixes the two.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "as": true, "from": true, "about": true,
	"我": true, "你": true, "他": true, "她": true, "它": true,
	"的": true, "了": true, "是": true, "在": true, "有": true,
	"和": true, "与": true, "或": true, "但": true, "不": true,
	"我们": true, "你们": true, "他们": true, "这个": true, "那个": true,
	"什么": true, "怎么": true, "一个": true, "就是": true, "没有": true,
}

// Tokenize splits text into search terms with mixed CJK/English handling.
//
// When the text contains CJK characters, CJK runs are segmented into
// overlapping bigrams while embedded Latin words are lowercased and kept
// whole; tokens shorter than two runes are dropped. Pure non-CJK text is
// lowercased, split on non-alphanumeric runes, stopword-filtered and
// lightly stemmed.
func Tokenize(text string) []string {
	if containsCJK(text) {
		return tokenizeCJK(text)
	}
	return tokenizeLatin(text)
}

func containsCJK(s string) bool {
	for _, r := range s {
		if isCJK(r) {
			return true
		}
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func tokenizeCJK(text string) []string {
	var tokens []string
	emit := func(tok string) {
		if tok == "" || stopWords[tok] {
			return
		}
		if len([]rune(tok)) < 2 {
			return
		}
		tokens = append(tokens, tok)
	}

	var cjkRun []rune
	var wordRun []rune
	flushCJK := func() {
		for i := 0; i+1 < len(cjkRun); i++ {
			emit(string(cjkRun[i : i+2]))
		}
		cjkRun = cjkRun[:0]
	}
	flushWord := func() {
		emit(strings.ToLower(string(wordRun)))
		wordRun = wordRun[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjkRun = append(cjkRun, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			wordRun = append(wordRun, r)
		default:
			flushCJK()
			flushWord()
		}
	}
	flushCJK()
	flushWord()
	return tokens
}

func tokenizeLatin(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var tokens []string
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

// stem applies light English suffix stripping. It is intentionally much
// weaker than a full Porter stemmer; recall matters more than precision
// here and the rerank stage cleans up the rest.
func stem(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "sses"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "es") && len(word) > 4:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && len(word) > 3:
		return word[:len(word)-1]
	case strings.HasSuffix(word, "ing") && len(word) > 5:
		return dedupTail(word[:len(word)-3])
	case strings.HasSuffix(word, "ed") && len(word) > 4:
		return dedupTail(word[:len(word)-2])
	}
	return word
}

// dedupTail collapses a trailing doubled consonant ("runn" -> "run").
// Doubled l, s and z stay, matching the Porter step-1b exceptions.
func dedupTail(word string) string {
	n := len(word)
	if n < 2 || word[n-1] != word[n-2] || isVowel(word[n-1]) {
		return word
	}
	switch word[n-1] {
	case 'l', 's', 'z':
		return word
	}
	return word[:n-1]
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
