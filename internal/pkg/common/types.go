package common

import (
	"fmt"
	"strings"
)

// Ingredient 食材
type Ingredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount,omitempty"`
}

// InstructionStep 步驟
type InstructionStep struct {
	Text string `json:"text"`
	Icon string `json:"icon,omitempty"`
}

// Difficulty 難度
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid 是否為三個固定等級之一
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ParseDifficulty 容忍大小寫與德文同義詞
func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "einfach", "leicht":
		return DifficultyEasy, true
	case "medium", "mittel":
		return DifficultyMedium, true
	case "hard", "schwer", "schwierig":
		return DifficultyHard, true
	}
	return "", false
}

// FeatureKind 配額分類
type FeatureKind string

const (
	FeatureManual     FeatureKind = "manual"
	FeatureLinkImport FeatureKind = "link-import"
	FeaturePhotoScan  FeatureKind = "photo-scan"
)

// AllFeatures 依固定順序列出的配額分類
var AllFeatures = []FeatureKind{FeatureManual, FeatureLinkImport, FeaturePhotoScan}

// ExtractedRecipe AI 解析出的候選食譜，寫入前一定會與預設值合併
type ExtractedRecipe struct {
	Title         string            `json:"title"`
	Category      string            `json:"category"`
	PrepTime      string            `json:"prepTime"`
	Difficulty    Difficulty        `json:"difficulty"`
	Portions      int               `json:"portions"`
	Ingredients   []Ingredient      `json:"ingredients"`
	Instructions  []InstructionStep `json:"instructions"`
	ImageKeywords string            `json:"imageKeywords,omitempty"`
}

// RecipeDefaults 解析失敗或欄位缺漏時使用的預設值
type RecipeDefaults struct {
	Title      string
	Category   string
	PrepTime   string
	Difficulty Difficulty
	Portions   int
}

// DefaultRecipeDefaults 沒有來源資訊時的預設值
func DefaultRecipeDefaults() RecipeDefaults {
	return RecipeDefaults{
		Title:      "Imported recipe",
		Category:   "Other",
		PrepTime:   "30 min",
		Difficulty: DifficultyMedium,
		Portions:   2,
	}
}

// FallbackRecipe 最小可用的食譜
func FallbackRecipe(d RecipeDefaults) *ExtractedRecipe {
	return &ExtractedRecipe{
		Title:        d.Title,
		Category:     d.Category,
		PrepTime:     d.PrepTime,
		Difficulty:   d.Difficulty,
		Portions:     d.Portions,
		Ingredients:  []Ingredient{},
		Instructions: []InstructionStep{},
	}
}

// FormatIngredients 格式化食材列表
func FormatIngredients(ingredients []Ingredient) string {
	var sb strings.Builder
	for _, ing := range ingredients {
		if ing.Amount != "" {
			sb.WriteString(fmt.Sprintf("- %s %s\n", ing.Amount, ing.Name))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s\n", ing.Name))
	}
	return sb.String()
}
