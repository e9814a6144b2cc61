package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"recipe-importer/internal/pkg/common"
)

// allowedIcons 步驟可使用的圖示
var allowedIcons = map[string]bool{
	"bowl": true, "blender": true, "chef-hat": true, "clock": true, "cookie": true,
	"droplet": true, "egg": true, "fish": true, "flame": true, "knife": true,
	"leaf": true, "microwave": true, "oven": true, "pan": true, "pot": true,
	"refrigerator": true, "salad": true, "scale": true, "snowflake": true, "soup": true,
	"thermometer": true, "timer": true, "utensils": true, "whisk": true, "wheat": true,
}

// SanitizeIcon 不在清單中的圖示一律丟棄
func SanitizeIcon(icon string) string {
	icon = strings.ToLower(strings.TrimSpace(icon))
	icon = strings.ReplaceAll(icon, "_", "-")
	if allowedIcons[icon] {
		return icon
	}
	return ""
}

// Model 產生文字回應的 AI 服務
type Model interface {
	Complete(ctx context.Context, prompt, imageDataURI string) (string, error)
}

// TextSource 文字來源
type TextSource struct {
	Kind    string // website | social
	URL     string
	Title   string
	Content string
}

// ErrNoRecipe 照片中沒有可辨識的食譜
var ErrNoRecipe = errors.New("no recipe found in content")

// Extractor 將原始內容轉為結構化食譜
type Extractor struct {
	model    Model
	validate *validator.Validate
}

// New 建立擷取器
func New(model Model) *Extractor {
	return &Extractor{model: model, validate: validator.New()}
}

// ExtractText 連結匯入使用；任何失敗都回傳最小可用的食譜
func (e *Extractor) ExtractText(ctx context.Context, src TextSource, defaults common.RecipeDefaults) *common.ExtractedRecipe {
	raw, err := e.model.Complete(ctx, buildTextPrompt(src), "")
	if err == nil && strings.TrimSpace(raw) == "" {
		err = common.ErrEmptyAIResponse
	}
	if err != nil {
		common.LogWarn("Recipe extraction failed, using fallback",
			zap.String("source", src.Kind),
			zap.String("url", src.URL),
			zap.Error(err),
		)
		return common.FallbackRecipe(defaults)
	}

	doc, err := e.Parse(raw, defaults)
	if err != nil {
		common.LogWarn("Recipe response unparsable, using fallback",
			zap.String("source", src.Kind),
			zap.String("url", src.URL),
			zap.Error(err),
		)
		return common.FallbackRecipe(defaults)
	}
	return doc
}

// ExtractImage 照片掃描使用；失敗時回傳錯誤讓使用者重試
func (e *Extractor) ExtractImage(ctx context.Context, imageDataURI string, defaults common.RecipeDefaults) (*common.ExtractedRecipe, error) {
	raw, err := e.model.Complete(ctx, buildImagePrompt(), imageDataURI)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = common.ErrEmptyAIResponse
	}
	if err != nil {
		return nil, common.NewError(common.ErrCodeExtractionFailed, "could not extract a recipe from the photo", http.StatusUnprocessableEntity, err)
	}

	doc, err := e.Parse(raw, defaults)
	if err != nil {
		return nil, common.NewError(common.ErrCodeExtractionFailed, "could not extract a recipe from the photo", http.StatusUnprocessableEntity, err)
	}
	if len(doc.Ingredients) == 0 && len(doc.Instructions) == 0 {
		return nil, common.NewError(common.ErrCodeExtractionFailed, "no recipe found in the photo", http.StatusUnprocessableEntity, ErrNoRecipe)
	}
	return doc, nil
}

// Parse 去除 code fence 並解析成完整型別的食譜，缺漏欄位以預設值補上
func (e *Extractor) Parse(raw string, defaults common.RecipeDefaults) (*common.ExtractedRecipe, error) {
	body := common.ExtractJSONObject(raw)

	var doc looseRecipe
	if err := common.ParseJSON(body, &doc); err != nil {
		if retryErr := common.ParseJSON(common.QuoteJSONKeys(body), &doc); retryErr != nil {
			return nil, fmt.Errorf("parse recipe JSON: %w", err)
		}
	}
	return e.normalize(&doc, defaults), nil
}

func (e *Extractor) normalize(doc *looseRecipe, d common.RecipeDefaults) *common.ExtractedRecipe {
	out := &common.ExtractedRecipe{
		Title:         e.stringOr(string(doc.Title), "required,max=200", d.Title),
		Category:      e.stringOr(string(doc.Category), "required,max=60", d.Category),
		PrepTime:      e.stringOr(string(doc.PrepTime), "required,max=60", d.PrepTime),
		Difficulty:    d.Difficulty,
		Portions:      d.Portions,
		Ingredients:   make([]common.Ingredient, 0, len(doc.Ingredients)),
		Instructions:  make([]common.InstructionStep, 0, len(doc.Instructions)),
		ImageKeywords: strings.TrimSpace(string(doc.ImageKeywords)),
	}

	if diff, ok := common.ParseDifficulty(string(doc.Difficulty)); ok {
		out.Difficulty = diff
	}
	if p := int(doc.Portions); e.validate.Var(p, "min=1,max=100") == nil {
		out.Portions = p
	}

	for _, ing := range doc.Ingredients {
		name := strings.TrimSpace(ing.Name)
		if name == "" {
			continue
		}
		out.Ingredients = append(out.Ingredients, common.Ingredient{
			Name:   name,
			Amount: strings.TrimSpace(ing.Amount),
		})
	}
	for _, step := range doc.Instructions {
		text := strings.TrimSpace(step.Text)
		if text == "" {
			continue
		}
		out.Instructions = append(out.Instructions, common.InstructionStep{
			Text: text,
			Icon: SanitizeIcon(step.Icon),
		})
	}
	return out
}

func (e *Extractor) stringOr(v, tag, fallback string) string {
	v = strings.TrimSpace(v)
	if e.validate.Var(v, tag) != nil {
		return fallback
	}
	return v
}
