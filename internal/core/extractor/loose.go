package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// looseRecipe 模型輸出常見的型別錯誤都在解碼時吸收
type looseRecipe struct {
	Title         flexString     `json:"title"`
	Category      flexString     `json:"category"`
	PrepTime      prepTime       `json:"prepTime"`
	Difficulty    flexString     `json:"difficulty"`
	Portions      flexInt        `json:"portions"`
	Ingredients   ingredientList `json:"ingredients"`
	Instructions  stepList       `json:"instructions"`
	ImageKeywords flexString     `json:"imageKeywords"`
}

var (
	leadingInt = regexp.MustCompile(`\d+`)
	listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

// flexString 接受字串、數字或布林
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*s = flexString(num.String())
		return nil
	}
	// 其他型別視為缺漏
	return nil
}

// prepTime 純數字視為分鐘
type prepTime string

func (p *prepTime) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		if n, err := num.Int64(); err == nil && n > 0 {
			*p = prepTime(fmt.Sprintf("%d min", n))
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		str = strings.TrimSpace(str)
		if _, err := strconv.Atoi(str); err == nil {
			str += " min"
		}
		*p = prepTime(str)
	}
	return nil
}

// flexInt 接受數字或含數字的字串，例如 "4 Portionen"
type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*i = flexInt(int(f))
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if m := leadingInt.FindString(str); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				*i = flexInt(n)
			}
		}
	}
	return nil
}

// looseIngredient 接受 "200 g Mehl" 或 {"name": ..., "amount": ...}
type looseIngredient struct {
	Name   string
	Amount string
}

func (l *looseIngredient) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		l.Name = str
		return nil
	}
	var obj struct {
		Name     flexString `json:"name"`
		Amount   flexString `json:"amount"`
		Quantity flexString `json:"quantity"`
		Unit     flexString `json:"unit"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	l.Name = string(obj.Name)
	l.Amount = string(obj.Amount)
	if l.Amount == "" && obj.Quantity != "" {
		l.Amount = strings.TrimSpace(string(obj.Quantity) + " " + string(obj.Unit))
	}
	return nil
}

// looseStep 接受字串或 {"text": ..., "icon": ...}
type looseStep struct {
	Text string
	Icon string
}

func (l *looseStep) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		l.Text = str
		return nil
	}
	var obj struct {
		Text        flexString `json:"text"`
		Instruction flexString `json:"instruction"`
		Icon        flexString `json:"icon"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	l.Text = string(obj.Text)
	if l.Text == "" {
		l.Text = string(obj.Instruction)
	}
	l.Icon = string(obj.Icon)
	return nil
}

// splitLines 把單一字串拆成清單
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ingredientList 接受陣列或以換行分隔的字串
type ingredientList []looseIngredient

func (l *ingredientList) UnmarshalJSON(b []byte) error {
	var items []looseIngredient
	if err := json.Unmarshal(b, &items); err == nil {
		*l = items
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		for _, line := range splitLines(str) {
			*l = append(*l, looseIngredient{Name: line})
		}
	}
	return nil
}

// stepList 接受陣列或以換行分隔的字串
type stepList []looseStep

func (l *stepList) UnmarshalJSON(b []byte) error {
	var items []looseStep
	if err := json.Unmarshal(b, &items); err == nil {
		*l = items
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		for _, line := range splitLines(str) {
			*l = append(*l, looseStep{Text: line})
		}
	}
	return nil
}
