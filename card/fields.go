package card

import (
	"bytes"
	"charcards/models"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Alias chains, first present non-empty key wins. The first key is the one
// written on export.
var (
	nameKeys             = []string{"name", "char_name"}
	descriptionKeys      = []string{"description", "char_persona"}
	personalityKeys      = []string{"personality"}
	scenarioKeys         = []string{"scenario", "world_scenario"}
	firstMesKeys         = []string{"first_mes", "char_greeting", "first_message", "firstMessage", "greeting"}
	mesExampleKeys       = []string{"mes_example", "example_dialogue"}
	creatorNotesKeys     = []string{"creator_notes", "creatorcomment", "creator_comment"}
	systemPromptKeys     = []string{"system_prompt"}
	postHistoryKeys      = []string{"post_history_instructions"}
	creatorKeys          = []string{"creator"}
	characterVersionKeys = []string{"character_version"}
	greetingsKeys        = []string{"alternate_greetings"}
	tagsKeys             = []string{"tags"}
	bookKeys             = []string{"character_book"}
	extensionsKeys       = []string{"extensions"}
)

func present(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null
}

func pick(doc gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		v := doc.Get(escapeKey(k))
		if !present(v) {
			continue
		}
		if v.Type == gjson.String && v.Str == "" {
			continue
		}
		if v.IsArray() && len(v.Array()) == 0 {
			continue
		}
		return v
	}
	return gjson.Result{}
}

func pickString(doc gjson.Result, keys []string) string {
	v := pick(doc, keys)
	if !present(v) || v.IsArray() || v.IsObject() {
		return ""
	}
	return v.String()
}

// stringList accepts an array or a comma separated string.
func stringList(v gjson.Result) []string {
	resp := []string{}
	switch {
	case v.IsArray():
		for _, e := range v.Array() {
			if s := strings.TrimSpace(e.String()); present(e) && s != "" {
				resp = append(resp, s)
			}
		}
	case v.Type == gjson.String:
		resp = models.SplitList(v.Str)
	}
	return resp
}

func parseTags(v gjson.Result) []string {
	seen := map[string]struct{}{}
	resp := []string{}
	for _, t := range stringList(v) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		resp = append(resp, t)
	}
	return resp
}

// greetings keep order and blanks; only non-strings are dropped
func parseGreetings(v gjson.Result) []string {
	resp := []string{}
	if !v.IsArray() {
		return resp
	}
	for _, e := range v.Array() {
		if e.Type == gjson.String {
			resp = append(resp, e.Str)
		}
	}
	return resp
}

func parseLorebook(v gjson.Result) *models.Lorebook {
	if !v.IsObject() {
		return nil
	}
	book := &models.Lorebook{
		Name:        v.Get("name").String(),
		Description: v.Get("description").String(),
		Entries:     []models.LorebookEntry{},
		Raw:         json.RawMessage(v.Raw),
	}
	v.Get("entries").ForEach(func(_, e gjson.Result) bool {
		if e.IsObject() {
			book.Entries = append(book.Entries, parseEntry(e))
		}
		return true
	})
	return book
}

func parseEntry(e gjson.Result) models.LorebookEntry {
	entry := models.LorebookEntry{
		Keys:           stringList(pick(e, []string{"keys", "key"})),
		SecondaryKeys:  stringList(pick(e, []string{"secondary_keys", "keysecondary"})),
		Content:        e.Get("content").String(),
		Enabled:        true,
		InsertionOrder: int(pick(e, []string{"insertion_order", "order"}).Int()),
		CaseSensitive:  e.Get("case_sensitive").Bool(),
		Constant:       e.Get("constant").Bool(),
		Comment:        e.Get("comment").String(),
		Raw:            json.RawMessage(e.Raw),
	}
	if v := e.Get("enabled"); present(v) {
		entry.Enabled = v.Bool()
	} else if e.Get("disable").Bool() {
		entry.Enabled = false
	}
	if v := e.Get("id"); present(v) {
		entry.ID = json.RawMessage(v.Raw)
	}
	if v := e.Get("position"); present(v) {
		entry.Position = json.RawMessage(v.Raw)
	}
	entry.RefreshKeysText()
	return entry
}

// FromBody maps an unwrapped card body onto a fresh record. The body itself
// is kept verbatim as RawOriginal.
func FromBody(body []byte) *models.Character {
	doc := gjson.ParseBytes(body)
	c := models.NewCharacter(pickString(doc, nameKeys))
	c.Description = pickString(doc, descriptionKeys)
	c.Personality = pickString(doc, personalityKeys)
	c.Scenario = pickString(doc, scenarioKeys)
	c.FirstMessage = pickString(doc, firstMesKeys)
	c.MessageExamples = pickString(doc, mesExampleKeys)
	c.CreatorNotes = pickString(doc, creatorNotesKeys)
	c.SystemPrompt = pickString(doc, systemPromptKeys)
	c.PostHistoryInstructions = pickString(doc, postHistoryKeys)
	c.Creator = pickString(doc, creatorKeys)
	c.CharacterVersion = pickString(doc, characterVersionKeys)
	c.AlternateGreetings = parseGreetings(pick(doc, greetingsKeys))
	c.Tags = parseTags(pick(doc, tagsKeys))
	c.CharacterBook = parseLorebook(pick(doc, bookKeys))
	if v := pick(doc, extensionsKeys); v.IsObject() {
		c.Extensions = json.RawMessage(v.Raw)
	}
	c.RawOriginal = json.RawMessage(bytes.Clone(body))
	return c
}
