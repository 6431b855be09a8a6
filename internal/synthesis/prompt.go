package synthesis

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var promptTemplates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`
{{define "logo"}}Design a professional, original logo for the brand "{{.BrandName}}".
{{- if .Style}} Style: {{.Style}}.{{end}}
{{- if .Colors}} Color palette: {{join .Colors ", "}}.{{end}}
{{- if .Prompt}} Brief: {{.Prompt}}.{{end}}
This is concept {{.Concept}} of {{.Concepts}}; make it visually distinct from the other concepts.
Centered mark on a plain white background, no mockups, no extra text beyond the brand name.{{end}}

{{define "meme"}}Create a meme image: {{.Prompt}}.
{{- if .TopText}} Top caption: "{{.TopText}}".{{end}}
{{- if .BottomText}} Bottom caption: "{{.BottomText}}".{{end}}
{{- if .HasReference}} Use the attached image as the visual reference for the subject.{{end}}
{{- if eq .Quality "hd"}} Render in high detail.{{end}}{{end}}

{{define "sticker"}}Create a single chat sticker: {{.Prompt}}.
{{- if .Emotion}} Emotion: {{.Emotion}}.{{end}}
Bold outline, flat colors, subject centered on a solid white background, no text.{{end}}

{{define "edit"}}Edit the attached image: {{.Instruction}}. Keep everything else unchanged.{{end}}

{{define "icon"}}Extract only the symbol or icon from the attached logo for "{{.DisplayName}}".
Remove all text and wordmarks. Center the icon on a plain white square background.{{end}}
`))

// LogoPromptData feeds the logo template
type LogoPromptData struct {
	BrandName string
	Style     string
	Colors    []string
	Prompt    string
	Concept   int
	Concepts  int
}

// MemePromptData feeds the meme template
type MemePromptData struct {
	Prompt       string
	TopText      string
	BottomText   string
	Quality      string
	HasReference bool
}

// StickerPromptData feeds the sticker template
type StickerPromptData struct {
	Prompt  string
	Emotion string
}

// EditPromptData feeds the edit template
type EditPromptData struct {
	Instruction string
}

// IconPromptData feeds the icon extraction template
type IconPromptData struct {
	DisplayName string
}

// RenderPrompt executes the named template with data
func RenderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
