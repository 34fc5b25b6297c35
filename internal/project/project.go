// Package project keeps the session's comic project: its metadata, characters and panels,
// and the generation state of each of them.
package project

type AspectRatio string

const (
	AspectSquare     AspectRatio = "1:1"
	AspectPortrait   AspectRatio = "3:4"
	AspectLandscape  AspectRatio = "4:3"
	AspectWidescreen AspectRatio = "16:9"
	AspectTall       AspectRatio = "9:16"
)

func (a AspectRatio) Valid() bool {
	switch a {
	case AspectSquare, AspectPortrait, AspectLandscape, AspectWidescreen, AspectTall:
		return true
	}
	return false
}

// ParseAspectRatio falls back to square for empty or unknown values.
func ParseAspectRatio(s string) AspectRatio {
	if a := AspectRatio(s); a.Valid() {
		return a
	}
	return AspectSquare
}

type Kind string

const (
	KindPanel     Kind = "panel"
	KindCharacter Kind = "character"
)

type Character struct {
	Unit
	Name   string `json:"name"`
	Traits string `json:"traits"`
}

type Panel struct {
	Unit
	Number       int         `json:"number"`
	Description  string      `json:"description"`
	Dialogue     string      `json:"dialogue"`
	AspectRatio  AspectRatio `json:"aspect_ratio"`
	CharacterIDs []string    `json:"character_ids,omitempty"`
}

type Meta struct {
	Title   string `json:"title"`
	Genre   string `json:"genre"`
	Premise string `json:"premise"`
	Style   string `json:"style"`
}

type Project struct {
	Meta
	Characters []Character `json:"characters"`
	Panels     []Panel     `json:"panels"`
}

// PanelDraft is a panel before it joins the project.
type PanelDraft struct {
	Description string
	Dialogue    string
	AspectRatio AspectRatio
}

type CharacterDraft struct {
	Name   string
	Traits string
}

// Draft is a whole generated project.
type Draft struct {
	Meta
	Characters []CharacterDraft
	Panels     []PanelDraft
}

// PanelPatch updates only the fields that are set.
type PanelPatch struct {
	Description  *string
	Dialogue     *string
	AspectRatio  *AspectRatio
	CharacterIDs []string
}

// Job is a copy of what a provider needs to generate one unit.
type Job struct {
	Kind      Kind
	ID        string
	Style     string
	Character Character
	Panel     Panel
	Roster    []Character
}

func (p Project) clone() Project {
	out := Project{Meta: p.Meta}
	out.Characters = make([]Character, len(p.Characters))
	for i, c := range p.Characters {
		c.Unit = c.Unit.clone()
		out.Characters[i] = c
	}
	out.Panels = make([]Panel, len(p.Panels))
	for i, pn := range p.Panels {
		pn.Unit = pn.Unit.clone()
		pn.CharacterIDs = append([]string(nil), pn.CharacterIDs...)
		out.Panels[i] = pn
	}
	return out
}
