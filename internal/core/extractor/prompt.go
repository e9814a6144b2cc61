package extractor

import (
	"fmt"
	"sort"
	"strings"
)

const schemaHint = `{
  "title": "string",
  "category": "string, one short noun such as Suppe, Pasta, Dessert",
  "prepTime": "string such as 30 min",
  "difficulty": "easy | medium | hard",
  "portions": number,
  "ingredients": [{"name": "string", "amount": "string"}],
  "instructions": [{"text": "string", "icon": "one of the allowed icons or empty"}],
  "imageKeywords": "two or three English words describing the finished dish"
}`

func iconList() string {
	icons := make([]string, 0, len(allowedIcons))
	for icon := range allowedIcons {
		icons = append(icons, icon)
	}
	sort.Strings(icons)
	return strings.Join(icons, ", ")
}

// buildTextPrompt 網頁或貼文文字的擷取 prompt
func buildTextPrompt(src TextSource) string {
	var sb strings.Builder
	sb.WriteString("You extract cooking recipes. Read the following ")
	sb.WriteString(src.Kind)
	sb.WriteString(" content and return ONLY a JSON object with this shape:\n")
	sb.WriteString(schemaHint)
	sb.WriteString("\nAllowed icons: ")
	sb.WriteString(iconList())
	sb.WriteString("\nKeep the original language of the recipe. Do not invent ingredients.\n")
	if src.URL != "" {
		sb.WriteString(fmt.Sprintf("Source URL: %s\n", src.URL))
	}
	if src.Title != "" {
		sb.WriteString(fmt.Sprintf("Page title: %s\n", src.Title))
	}
	sb.WriteString("Content:\n")
	sb.WriteString(src.Content)
	return sb.String()
}

// buildImagePrompt 照片擷取 prompt
func buildImagePrompt() string {
	return "You extract cooking recipes from photos of cookbooks, handwritten cards and screenshots. " +
		"Return ONLY a JSON object with this shape:\n" + schemaHint +
		"\nAllowed icons: " + iconList() +
		"\nKeep the original language of the recipe. If the photo contains no recipe, return {\"title\": \"\"}."
}
