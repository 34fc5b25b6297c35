package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageVietnamese Language = "vi"
)

// ParseLanguage maps user input to a supported language, defaulting to English.
func ParseLanguage(s string) Language {
	if strings.EqualFold(strings.TrimSpace(s), string(LanguageVietnamese)) {
		return LanguageVietnamese
	}
	return LanguageEnglish
}

type CharacterSketch struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type PanelScript struct {
	Description string `json:"description"`
	Dialogue    string `json:"dialogue"`
	AspectRatio string `json:"aspectRatio"`
}

type ScriptRequest struct {
	Title      string
	Genre      string
	Premise    string
	Characters []CharacterSketch
	Language   Language
}

type Story struct {
	Title      string
	Genre      string
	Style      string
	Premise    string
	Characters []CharacterSketch
	Panels     []PanelScript
}

// GenerateScript breaks a premise into panel drafts.
func (c *Client) GenerateScript(ctx context.Context, req ScriptRequest) ([]PanelScript, error) {
	content, err := c.complete(ctx, scriptPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}

	panels, err := parsePanels(content)
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}
	if len(panels) == 0 {
		return nil, fmt.Errorf("generate script: no panels: %w", ErrMalformedResponse)
	}
	return panels, nil
}

// GenerateStory drafts a whole project from a topic.
func (c *Client) GenerateStory(ctx context.Context, topic string, lang Language) (*Story, error) {
	content, err := c.complete(ctx, storyPrompt(topic, lang))
	if err != nil {
		return nil, fmt.Errorf("generate story: %w", err)
	}

	var raw struct {
		Title      string            `json:"title"`
		Genre      string            `json:"genre"`
		Style      string            `json:"style"`
		Premise    string            `json:"premise"`
		Characters []CharacterSketch `json:"characters"`
		Panels     []PanelScript     `json:"panels"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		if c.log != nil {
			c.log.Warn("story response did not parse", "error", err, "content", truncateBody([]byte(content)))
		}
		return nil, fmt.Errorf("generate story: %w", ErrMalformedResponse)
	}

	story := &Story{
		Title:      withDefault(raw.Title, "Untitled"),
		Genre:      withDefault(raw.Genre, "General"),
		Style:      withDefault(raw.Style, "Comic Book"),
		Premise:    withDefault(raw.Premise, topic),
		Characters: raw.Characters,
		Panels:     raw.Panels,
	}
	return story, nil
}

// GenerateCharacterArt renders a full-body character sheet in portrait format.
func (c *Client) GenerateCharacterArt(ctx context.Context, name, traits, style string) (*Image, error) {
	prompt := fmt.Sprintf(`Character Design Sheet.
Name: %s
Traits: %s
Art Style: %s

Generate a full-body character design sheet on a white background. High detailed, concept art.`, name, traits, style)

	img, err := c.renderImage(ctx, prompt, "3:4")
	if err != nil {
		return nil, fmt.Errorf("generate character art: %w", err)
	}
	return img, nil
}

// GeneratePanelArt renders one panel. roster descriptions are inlined to keep characters consistent.
func (c *Client) GeneratePanelArt(ctx context.Context, description, style, aspectRatio string, roster []CharacterSketch) (*Image, error) {
	refs := make([]string, 0, len(roster))
	for _, ch := range roster {
		refs = append(refs, fmt.Sprintf("Character Reference: %s looks like %s", ch.Name, ch.Description))
	}

	prompt := fmt.Sprintf(`Comic Book Panel.
Art Style: %s (Manga/Comic High Quality).

Scene Description: %s

%s

Ensure the composition matches the description dynamically.
Do NOT include speech bubbles or text inside the image.`, style, description, strings.Join(refs, ". "))

	img, err := c.renderImage(ctx, prompt, aspectRatio)
	if err != nil {
		return nil, fmt.Errorf("generate panel art: %w", err)
	}
	return img, nil
}

func parsePanels(content string) ([]PanelScript, error) {
	type rawPanel struct {
		Description          string `json:"description"`
		Dialogue             string `json:"dialogue"`
		AspectRatio          string `json:"aspectRatio"`
		SuggestedAspectRatio string `json:"suggestedAspectRatio"`
	}

	var list []rawPanel
	if err := json.Unmarshal([]byte(content), &list); err != nil {
		var wrapped struct {
			Panels []rawPanel `json:"panels"`
		}
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil, ErrMalformedResponse
		}
		list = wrapped.Panels
	}

	panels := make([]PanelScript, 0, len(list))
	for _, p := range list {
		panels = append(panels, PanelScript{
			Description: p.Description,
			Dialogue:    p.Dialogue,
			AspectRatio: withDefault(p.SuggestedAspectRatio, p.AspectRatio),
		})
	}
	return panels, nil
}

func scriptPrompt(req ScriptRequest) string {
	characterContext := "Create suitable characters for the story."
	if len(req.Characters) > 0 {
		parts := make([]string, 0, len(req.Characters))
		for _, ch := range req.Characters {
			parts = append(parts, fmt.Sprintf("%s (%s)", ch.Name, ch.Description))
		}
		characterContext = "Use these existing characters: " + strings.Join(parts, ", ") + "."
	}

	langInstruction := "Generate the 'dialogue' in English. Keep 'description' in English."
	if req.Language == LanguageVietnamese {
		langInstruction = "Generate the 'dialogue' in Vietnamese. Keep 'description' in English for better image generation prompting."
	}

	return fmt.Sprintf(`Act as a professional comic book writer.
Title: %s
Genre: %s
Premise: %s
%s

Generate a detailed script for a comic book scene based on this premise.
Break it down into 4-8 panels.
For each panel, provide a visual description for the artist and the dialogue/caption.

%s

Answer with JSON only: {"panels": [{"description": string, "dialogue": string, "suggestedAspectRatio": one of "1:1", "16:9", "9:16", "3:4", "4:3"}]}`,
		req.Title, req.Genre, req.Premise, characterContext, langInstruction)
}

func storyPrompt(topic string, lang Language) string {
	langInstruction := "Generate everything in English."
	if lang == LanguageVietnamese {
		langInstruction = "Generate Title, Premise, Genre, Style and Dialogue in Vietnamese. BUT keep Character Description and Panel Description in English."
	}

	return fmt.Sprintf(`Act as a Lead Creative Director for a comic studio.
Topic/Idea: %q

Create a full comic project configuration based on this topic.
1. Create a catchy Title.
2. Define the Genre and Art Style.
3. Write a compelling Premise.
4. Create 2-4 Main Characters with names and visual descriptions.
5. Write a 4-6 panel opening script.

%s

Answer with JSON only: {"title": string, "genre": string, "style": string, "premise": string,
"characters": [{"name": string, "description": string}],
"panels": [{"description": string, "dialogue": string, "aspectRatio": string}]}`, topic, langInstruction)
}

func withDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
