package assistant

import (
	"regexp"
	"strings"
	"unicode"
)

type speechRewrite struct {
	re   *regexp.Regexp
	with string
}

// speechRewrites remove text that must not be voiced at all. Order matters:
// code first, so links inside code never survive as labels.
var speechRewrites = []speechRewrite{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

// Roleplay models like *se ríe* asides. A single starred word is emphasis.
var speechStageDirection = regexp.MustCompile(`\*[^*\n]{1,60}\*`)

// Symbols a Spanish voice should read as words.
var speechSymbolWords = strings.NewReplacer(
	"&", " y ",
	"%", " por ciento ",
	"+", " más ",
)

var speechMarkup = strings.NewReplacer(
	"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
	"#", " ", "~", " ", "<", " ", ">", " ",
)

type runeClass int

const (
	runeKeep runeClass = iota
	runeDrop
	runeBreak
)

// SanitizeSpeechText strips markup, links and symbols from model text so the
// synthesized reply sounds spoken rather than read.
func SanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, rw := range speechRewrites {
		raw = rw.re.ReplaceAllString(raw, rw.with)
	}
	raw = speechStageDirection.ReplaceAllStringFunc(raw, func(m string) string {
		if strings.ContainsRune(m, ' ') {
			return " "
		}
		return m
	})
	raw = speechMarkup.Replace(speechSymbolWords.Replace(raw))

	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false
	for _, r := range raw {
		switch classifySpeechRune(r) {
		case runeDrop:
		case runeBreak:
			pendingSpace = b.Len() > 0
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func classifySpeechRune(r rune) runeClass {
	switch {
	// Emoji joiners and variation selectors.
	case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		return runeDrop
	case unicode.IsSpace(r):
		return runeBreak
	case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return runeDrop
	case strings.ContainsRune(".,!?¡¿:;'\"-()«»", r):
		return runeKeep
	case unicode.IsPunct(r):
		return runeBreak
	default:
		return runeKeep
	}
}
