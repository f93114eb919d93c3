package library

import (
	"charcards/models"
	"errors"
	"fmt"
	"strings"
)

var ErrLorebookEntry = errors.New("no such lorebook entry")

// EntryPatch edits one lorebook entry picked by its position in the book.
type EntryPatch struct {
	Index int `json:"index"`
	// KeysText is the comma separated form of the entry keys.
	KeysText *string `json:"keysText"`
	Content  *string `json:"content"`
	Comment  *string `json:"comment"`
	Enabled  *bool   `json:"enabled"`
}

// Patch holds the editable fields of a PATCH request; nil means unchanged.
type Patch struct {
	Name                    *string      `json:"name"`
	Description             *string      `json:"description"`
	Personality             *string      `json:"personality"`
	Scenario                *string      `json:"scenario"`
	FirstMessage            *string      `json:"firstMessage"`
	MessageExamples         *string      `json:"messageExamples"`
	CreatorNotes            *string      `json:"creatorNotes"`
	SystemPrompt            *string      `json:"systemPrompt"`
	PostHistoryInstructions *string      `json:"postHistoryInstructions"`
	Creator                 *string      `json:"creator"`
	CharacterVersion        *string      `json:"characterVersion"`
	AlternateGreetings      *[]string    `json:"alternateGreetings"`
	Tags                    *[]string    `json:"tags"`
	Favorite                *bool        `json:"favorite"`
	Folder                  *string      `json:"folder"`
	LorebookEntries         []EntryPatch `json:"lorebookEntries"`
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (p *Patch) apply(c *models.Character) error {
	for _, ep := range p.LorebookEntries {
		if c.CharacterBook == nil || ep.Index < 0 || ep.Index >= len(c.CharacterBook.Entries) {
			return fmt.Errorf("%w: %d", ErrLorebookEntry, ep.Index)
		}
	}
	setString(&c.Name, p.Name)
	if c.Name == "" {
		c.Name = models.DefaultName
	}
	setString(&c.Description, p.Description)
	setString(&c.Personality, p.Personality)
	setString(&c.Scenario, p.Scenario)
	setString(&c.FirstMessage, p.FirstMessage)
	setString(&c.MessageExamples, p.MessageExamples)
	setString(&c.CreatorNotes, p.CreatorNotes)
	setString(&c.SystemPrompt, p.SystemPrompt)
	setString(&c.PostHistoryInstructions, p.PostHistoryInstructions)
	setString(&c.Creator, p.Creator)
	setString(&c.CharacterVersion, p.CharacterVersion)
	setString(&c.Folder, p.Folder)
	if p.AlternateGreetings != nil {
		c.AlternateGreetings = append([]string{}, (*p.AlternateGreetings)...)
	}
	if p.Tags != nil {
		tags := []string{}
		for _, t := range *p.Tags {
			t = strings.TrimSpace(t)
			if t != "" && !containsFold(tags, t) {
				tags = append(tags, t)
			}
		}
		c.Tags = tags
	}
	if p.Favorite != nil {
		c.Favorite = *p.Favorite
	}
	for _, ep := range p.LorebookEntries {
		e := &c.CharacterBook.Entries[ep.Index]
		if ep.KeysText != nil {
			e.SetKeysText(*ep.KeysText)
		}
		setString(&e.Content, ep.Content)
		setString(&e.Comment, ep.Comment)
		if ep.Enabled != nil {
			e.Enabled = *ep.Enabled
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Update applies a patch to a stored character.
func (l *Library) Update(id string, p *Patch) (*models.Character, error) {
	c, err := l.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	if err := p.apply(c); err != nil {
		return nil, err
	}
	return l.Save(c)
}
