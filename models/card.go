package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// https://github.com/malfoyslastname/character-card-spec-v2/blob/main/spec_v2.md
// Typed fields are the editable subset; RawOriginal keeps the rest.
type Character struct {
	ID                      string             `json:"id"`
	Name                    string             `json:"name"`
	Description             string             `json:"description"`
	Personality             string             `json:"personality"`
	FirstMessage            string             `json:"firstMessage"`
	AlternateGreetings      []string           `json:"alternateGreetings"`
	Scenario                string             `json:"scenario"`
	MessageExamples         string             `json:"messageExamples"`
	CreatorNotes            string             `json:"creatorNotes"`
	SystemPrompt            string             `json:"systemPrompt"`
	PostHistoryInstructions string             `json:"postHistoryInstructions"`
	Creator                 string             `json:"creator"`
	CharacterVersion        string             `json:"characterVersion"`
	Tags                    []string           `json:"tags"`
	CharacterBook           *Lorebook          `json:"characterBook,omitempty"`
	Extensions              json.RawMessage    `json:"extensions,omitempty"`
	QuickReplies            []QuickReplyAction `json:"quickReplies,omitempty"`
	// ExtraQRData is the quick-reply file as it was imported.
	ExtraQRData json.RawMessage `json:"extraQrData,omitempty"`
	// RawOriginal is the unwrapped card body as found in the source file. It
	// is never edited.
	RawOriginal json.RawMessage `json:"rawOriginal,omitempty"`

	// app only, never exported
	Source     ContainerKind `json:"source"`
	FileName   string        `json:"fileName"`
	ImportedAt time.Time     `json:"importedAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Favorite   bool          `json:"favorite"`
	Folder     string        `json:"folder"`
}

type Lorebook struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Entries     []LorebookEntry `json:"entries"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

type LorebookEntry struct {
	ID             json.RawMessage `json:"id,omitempty"`
	Keys           []string        `json:"keys"`
	SecondaryKeys  []string        `json:"secondaryKeys"`
	Content        string          `json:"content"`
	Enabled        bool            `json:"enabled"`
	InsertionOrder int             `json:"insertionOrder"`
	CaseSensitive  bool            `json:"caseSensitive"`
	Constant       bool            `json:"constant"`
	Comment        string          `json:"comment"`
	// number or string, kept as written
	Position json.RawMessage `json:"position,omitempty"`
	// KeysText is a display helper derived from Keys.
	KeysText string          `json:"-"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

func (e *LorebookEntry) RefreshKeysText() {
	e.KeysText = strings.Join(e.Keys, ", ")
}

// SetKeysText replaces Keys from a comma separated helper string.
func (e *LorebookEntry) SetKeysText(s string) {
	e.Keys = SplitList(s)
	e.RefreshKeysText()
}

type QuickReplyAction struct {
	ID                 int             `json:"id"`
	Label              string          `json:"label"`
	Message            string          `json:"message"`
	PreventAutoExecute bool            `json:"preventAutoExecute,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// NewID generates character identities.
var NewID = uuid.NewString

// NewCharacter is a blank record for manual creation.
func NewCharacter(name string) *Character {
	if name == "" {
		name = DefaultName
	}
	now := time.Now().UTC()
	return &Character{
		ID:                 NewID(),
		Name:               name,
		AlternateGreetings: []string{},
		Tags:               []string{},
		Source:             ContainerUnknown,
		ImportedAt:         now,
		UpdatedAt:          now,
	}
}

func (c *Character) Touch() {
	c.UpdatedAt = time.Now().UTC()
}

func (c *Character) HasQuickReplies() bool {
	return len(c.QuickReplies) > 0 || len(c.ExtraQRData) > 0
}

// HasTag compares case-insensitively.
func (c *Character) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// SplitList splits on commas, trims and drops empties.
func SplitList(s string) []string {
	resp := []string{}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			resp = append(resp, p)
		}
	}
	return resp
}
