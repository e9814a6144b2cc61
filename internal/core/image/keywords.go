package image

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxKeywords 關鍵字圖片服務最多使用的字數
const MaxKeywords = 3

// stopwords 已去除變音符號後的德文與英文停用字
var stopwords = map[string]bool{
	// de
	"und": true, "oder": true, "mit": true, "ohne": true, "der": true, "die": true, "das": true,
	"den": true, "dem": true, "des": true, "ein": true, "eine": true, "einer": true, "einem": true,
	"einen": true, "von": true, "vom": true, "zum": true, "zur": true, "fur": true, "auf": true,
	"aus": true, "nach": true, "wie": true, "bei": true, "beim": true, "rezept": true, "art": true,
	"einfach": true, "schnell": true, "schnelle": true, "schneller": true, "lecker": true,
	"leckere": true, "leckerer": true, "omas": true, "beste": true, "besten": true, "hausgemacht": true,
	"selbstgemacht": true,
	// en
	"and": true, "the": true, "with": true, "without": true, "for": true, "from": true, "recipe": true,
	"easy": true, "quick": true, "best": true, "homemade": true, "simple": true, "style": true,
	"how": true, "make": true, "this": true, "that": true, "your": true,
}

// Fold 去除變音符號並轉小寫
func Fold(s string) string {
	s = strings.ReplaceAll(s, "ß", "ss")
	s = strings.ReplaceAll(s, "ẞ", "SS")
	// Transformer 帶有內部緩衝，不能跨 goroutine 共用
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Keywords 從標題取出最多三個關鍵字
func Keywords(title string) []string {
	words := strings.FieldsFunc(Fold(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	out := make([]string, 0, MaxKeywords)
	for _, w := range words {
		if len([]rune(w)) < 3 || stopwords[w] || seen[w] || isNumber(w) {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
