package card

import (
	"bytes"
	"charcards/models"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// keysTextKey is the display helper some editors leave inside lorebook entries.
const keysTextKey = "keysText"

var jsonExportOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "  ", SortKeys: false}

type overlay struct {
	key   string
	value any
	raw   []byte
	del   bool
}

func applyOverlays(doc []byte, fields []overlay) ([]byte, error) {
	var err error
	for _, f := range fields {
		switch {
		case f.del:
			if gjson.GetBytes(doc, f.key).Exists() {
				doc, err = sjson.DeleteBytes(doc, f.key)
			}
		case f.raw != nil:
			doc, err = sjson.SetRawBytes(doc, f.key, f.raw)
		default:
			doc, err = sjson.SetBytes(doc, f.key, f.value)
		}
		if err != nil {
			return nil, fmt.Errorf("overlay %s: %w", f.key, err)
		}
	}
	return doc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// base is a private copy of raw when it is an object, {} otherwise.
func base(raw []byte) []byte {
	if isObject(raw) {
		return bytes.Clone(raw)
	}
	return []byte("{}")
}

// Merge builds the export body: RawOriginal with every typed field laid over
// it by key. Keys the model does not know keep their value and position; typed
// keys always reflect c.
func Merge(c *models.Character) ([]byte, error) {
	book := overlay{key: "character_book", del: true}
	if c.CharacterBook != nil {
		raw, err := mergeLorebook(c.CharacterBook)
		if err != nil {
			return nil, err
		}
		book = overlay{key: "character_book", raw: raw}
	}
	extensions := []byte("{}")
	if isObject(c.Extensions) {
		extensions = c.Extensions
	}
	return applyOverlays(base(c.RawOriginal), []overlay{
		{key: "name", value: c.Name},
		{key: "description", value: c.Description},
		{key: "personality", value: c.Personality},
		{key: "scenario", value: c.Scenario},
		{key: "first_mes", value: c.FirstMessage},
		{key: "mes_example", value: c.MessageExamples},
		{key: "creator_notes", value: c.CreatorNotes},
		{key: "system_prompt", value: c.SystemPrompt},
		{key: "post_history_instructions", value: c.PostHistoryInstructions},
		{key: "alternate_greetings", value: nonNil(c.AlternateGreetings)},
		book,
		{key: "tags", value: nonNil(c.Tags)},
		{key: "creator", value: c.Creator},
		{key: "character_version", value: c.CharacterVersion},
		{key: "extensions", raw: extensions},
	})
}

func mergeLorebook(b *models.Lorebook) ([]byte, error) {
	entries := make([][]byte, 0, len(b.Entries))
	for i := range b.Entries {
		raw, err := mergeEntry(&b.Entries[i])
		if err != nil {
			return nil, fmt.Errorf("lorebook entry %d: %w", i, err)
		}
		entries = append(entries, raw)
	}
	return applyOverlays(base(b.Raw), []overlay{
		{key: "name", value: b.Name},
		{key: "description", value: b.Description},
		{key: "entries", raw: jsonArray(entries)},
	})
}

func mergeEntry(e *models.LorebookEntry) ([]byte, error) {
	fields := []overlay{
		{key: keysTextKey, del: true},
		{key: "keys", value: nonNil(e.Keys)},
		{key: "secondary_keys", value: nonNil(e.SecondaryKeys)},
		{key: "content", value: e.Content},
		{key: "enabled", value: e.Enabled},
		{key: "insertion_order", value: e.InsertionOrder},
		{key: "case_sensitive", value: e.CaseSensitive},
		{key: "constant", value: e.Constant},
		{key: "comment", value: e.Comment},
	}
	if len(e.ID) > 0 {
		fields = append(fields, overlay{key: "id", raw: e.ID})
	}
	if len(e.Position) > 0 {
		fields = append(fields, overlay{key: "position", raw: e.Position})
	}
	return applyOverlays(base(e.Raw), fields)
}

// Envelope wraps a card body in the v2 envelope.
func Envelope(body []byte) ([]byte, error) {
	head := fmt.Sprintf(`{"spec":%q,"spec_version":%q}`, SpecV2, SpecVersionV2)
	return sjson.SetRawBytes([]byte(head), "data", body)
}

// ExportPayload is the compact enveloped card that goes into png chunks.
func ExportPayload(c *models.Character) ([]byte, error) {
	body, err := Merge(c)
	if err != nil {
		return nil, err
	}
	doc, err := Envelope(body)
	if err != nil {
		return nil, err
	}
	return pretty.Ugly(doc), nil
}

// ExportJSON is the indented enveloped card for .json files.
func ExportJSON(c *models.Character) ([]byte, error) {
	payload, err := ExportPayload(c)
	if err != nil {
		return nil, err
	}
	return pretty.PrettyOptions(payload, jsonExportOptions), nil
}
