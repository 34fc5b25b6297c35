package project

import (
	"sync"

	"github.com/google/uuid"
)

// Session owns the single project of a running service. All unit transitions go through it.
type Session struct {
	mu sync.Mutex
	p  Project
}

func NewSession() *Session {
	return &Session{p: Project{Characters: []Character{}, Panels: []Panel{}}}
}

// Snapshot returns a deep copy of the project.
func (s *Session) Snapshot() Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.clone()
}

func (s *Session) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Meta
}

func (s *Session) UpdateMeta(m Meta) {
	s.mu.Lock()
	s.p.Meta = m
	s.mu.Unlock()
}

// Replace swaps in a generated project. Every unit starts idle.
func (s *Session) Replace(d Draft) Project {
	p := Project{Meta: d.Meta, Characters: make([]Character, 0, len(d.Characters))}
	for _, c := range d.Characters {
		p.Characters = append(p.Characters, newCharacter(c))
	}
	p.Panels = newPanels(d.Panels)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
	return s.p.clone()
}

// ReplacePanels swaps the panel list for a freshly generated script.
func (s *Session) ReplacePanels(drafts []PanelDraft) []Panel {
	panels := newPanels(drafts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Panels = panels
	return s.p.clone().Panels
}

func (s *Session) AddPanel(d PanelDraft) Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := newPanel(d)
	p.Number = len(s.p.Panels) + 1
	s.p.Panels = append(s.p.Panels, p)
	return p
}

func (s *Session) UpdatePanel(id string, patch PanelPatch) (Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.panelIndex(id)
	if idx < 0 {
		return Panel{}, ErrUnitNotFound
	}
	p := &s.p.Panels[idx]
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Dialogue != nil {
		p.Dialogue = *patch.Dialogue
	}
	if patch.AspectRatio != nil {
		p.AspectRatio = ParseAspectRatio(string(*patch.AspectRatio))
	}
	if patch.CharacterIDs != nil {
		p.CharacterIDs = append([]string(nil), patch.CharacterIDs...)
	}
	out := *p
	out.Unit = out.Unit.clone()
	return out, nil
}

func (s *Session) RemovePanel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.panelIndex(id)
	if idx < 0 {
		return ErrUnitNotFound
	}
	s.p.Panels = append(s.p.Panels[:idx], s.p.Panels[idx+1:]...)
	for i := range s.p.Panels {
		s.p.Panels[i].Number = i + 1
	}
	return nil
}

func (s *Session) AddCharacter(d CharacterDraft) Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newCharacter(d)
	s.p.Characters = append(s.p.Characters, c)
	return c
}

func (s *Session) RemoveCharacter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.characterIndex(id)
	if idx < 0 {
		return ErrUnitNotFound
	}
	s.p.Characters = append(s.p.Characters[:idx], s.p.Characters[idx+1:]...)
	return nil
}

// Start moves a unit to pending. admit runs under the session lock after the state check and
// before the transition, so a rejected admission leaves the unit untouched and a unit can never
// be charged twice for one attempt.
func (s *Session) Start(kind Kind, id string, admit func() error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.unit(kind, id)
	if u == nil {
		return Job{}, ErrUnitNotFound
	}
	if u.Status == StatusPending {
		return Job{}, ErrUnitBusy
	}
	if admit != nil {
		if err := admit(); err != nil {
			return Job{}, err
		}
	}
	if err := u.Start(); err != nil {
		return Job{}, err
	}
	return s.job(kind, id), nil
}

func (s *Session) Complete(kind Kind, id string, asset Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.unit(kind, id)
	if u == nil {
		return ErrUnitNotFound
	}
	return u.Complete(asset)
}

func (s *Session) Fail(kind Kind, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.unit(kind, id)
	if u == nil {
		return ErrUnitNotFound
	}
	return u.Fail(cause)
}

// UnitIDs lists unit ids of kind in stored order.
func (s *Session) UnitIDs(kind Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	switch kind {
	case KindPanel:
		for _, p := range s.p.Panels {
			ids = append(ids, p.ID)
		}
	case KindCharacter:
		for _, c := range s.p.Characters {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// HasAsset reports whether the unit exists and already holds a result.
func (s *Session) HasAsset(kind Kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.unit(kind, id)
	if u == nil {
		return false, ErrUnitNotFound
	}
	return u.HasAsset(), nil
}

func (s *Session) Panel(id string) (Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.panelIndex(id)
	if idx < 0 {
		return Panel{}, ErrUnitNotFound
	}
	p := s.p.Panels[idx]
	p.Unit = p.Unit.clone()
	return p, nil
}

func (s *Session) Character(id string) (Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.characterIndex(id)
	if idx < 0 {
		return Character{}, ErrUnitNotFound
	}
	c := s.p.Characters[idx]
	c.Unit = c.Unit.clone()
	return c, nil
}

func (s *Session) unit(kind Kind, id string) *Unit {
	switch kind {
	case KindPanel:
		if idx := s.panelIndex(id); idx >= 0 {
			return &s.p.Panels[idx].Unit
		}
	case KindCharacter:
		if idx := s.characterIndex(id); idx >= 0 {
			return &s.p.Characters[idx].Unit
		}
	}
	return nil
}

func (s *Session) job(kind Kind, id string) Job {
	j := Job{Kind: kind, ID: id, Style: s.p.Style}
	switch kind {
	case KindPanel:
		p := s.p.Panels[s.panelIndex(id)]
		p.Unit = p.Unit.clone()
		p.CharacterIDs = append([]string(nil), p.CharacterIDs...)
		j.Panel = p
		j.Roster = s.roster(p.CharacterIDs)
	case KindCharacter:
		c := s.p.Characters[s.characterIndex(id)]
		c.Unit = c.Unit.clone()
		j.Character = c
	}
	return j
}

// roster returns the characters a panel involves, or the whole cast when none are listed.
func (s *Session) roster(ids []string) []Character {
	out := make([]Character, 0, len(s.p.Characters))
	for _, c := range s.p.Characters {
		if len(ids) > 0 && !contains(ids, c.ID) {
			continue
		}
		c.Unit = c.Unit.clone()
		out = append(out, c)
	}
	return out
}

func (s *Session) panelIndex(id string) int {
	for i := range s.p.Panels {
		if s.p.Panels[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) characterIndex(id string) int {
	for i := range s.p.Characters {
		if s.p.Characters[i].ID == id {
			return i
		}
	}
	return -1
}

func newPanels(drafts []PanelDraft) []Panel {
	panels := make([]Panel, 0, len(drafts))
	for i, d := range drafts {
		p := newPanel(d)
		p.Number = i + 1
		panels = append(panels, p)
	}
	return panels
}

func newPanel(d PanelDraft) Panel {
	return Panel{
		Unit:        Unit{ID: uuid.NewString(), Status: StatusIdle},
		Description: d.Description,
		Dialogue:    d.Dialogue,
		AspectRatio: ParseAspectRatio(string(d.AspectRatio)),
	}
}

func newCharacter(d CharacterDraft) Character {
	return Character{
		Unit:   Unit{ID: uuid.NewString(), Status: StatusIdle},
		Name:   d.Name,
		Traits: d.Traits,
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
