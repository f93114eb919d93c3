package card

import (
	"bytes"
	"charcards/avatar"
	"charcards/models"
	"charcards/pngmeta"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const ariaCard = `{
  "spec": "chara_card_v2",
  "spec_version": "2.0",
  "data": {
    "name": "Aria",
    "description": "A wandering cartographer.",
    "personality": "curious",
    "first_mes": "Hello traveler.",
    "alternate_greetings": ["Lost again?", ""],
    "tags": ["fantasy", "guide"],
    "x_custom": {"mood": "calm", "level": 3},
    "extensions": {"depth_prompt": {"depth": 4, "prompt": "stay in character"}},
    "character_book": {
      "name": "Atlas",
      "scan_depth": 5,
      "entries": [
        {"id": 7, "keys": ["map"], "content": "Maps are sacred.", "keysText": "map", "extensions": {"k": 1}},
        {"keys": "river, ford", "content": "The river is cold.", "position": "before_char", "enabled": false}
      ]
    }
  }
}`

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 20), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func cardPNG(t *testing.T, cardJSON string) []byte {
	t.Helper()
	chunk, err := pngmeta.BuildTextChunk("chara", base64.StdEncoding.EncodeToString([]byte(cardJSON)))
	require.NoError(t, err)
	data, err := pngmeta.InsertBeforeIEND(testPNG(t), chunk)
	require.NoError(t, err)
	return data
}

func newTestCodec() *Codec {
	return NewCodec(nil, avatar.Options{})
}

func TestAriaPNGRoundTrip(t *testing.T) {
	cd := newTestCodec()
	src := cardPNG(t, ariaCard)
	c, err := cd.ImportPNG(src, "aria.png")
	require.NoError(t, err)
	assert.Equal(t, "Aria", c.Name)
	assert.Equal(t, models.ContainerPNG, c.Source)
	assert.Equal(t, []string{"Lost again?", ""}, c.AlternateGreetings)
	require.NotNil(t, c.CharacterBook)
	require.Len(t, c.CharacterBook.Entries, 2)
	assert.Equal(t, "map", c.CharacterBook.Entries[0].KeysText)
	assert.Equal(t, []string{"river", "ford"}, c.CharacterBook.Entries[1].Keys)
	assert.False(t, c.CharacterBook.Entries[1].Enabled)

	out, err := cd.ExportPNG(c, src)
	require.NoError(t, err)
	cc, err := pngmeta.ReadCardChunk(out, nil)
	require.NoError(t, err)
	assert.Equal(t, "chara", cc.Keyword)
	assert.Equal(t, SpecV2, gjson.GetBytes(cc.Raw, "spec").String())
	assert.Equal(t, SpecVersionV2, gjson.GetBytes(cc.Raw, "spec_version").String())

	back, err := cd.ImportPNG(out, "aria.png")
	require.NoError(t, err)
	assert.Equal(t, c.Name, back.Name)
	assert.Equal(t, c.Description, back.Description)
	assert.Equal(t, c.FirstMessage, back.FirstMessage)
	assert.Equal(t, c.AlternateGreetings, back.AlternateGreetings)
	assert.Equal(t, c.Tags, back.Tags)
	assert.JSONEq(t, string(c.Extensions), string(back.Extensions))
	require.NotNil(t, back.CharacterBook)
	assert.Equal(t, c.CharacterBook.Entries[1].Keys, back.CharacterBook.Entries[1].Keys)
	// unknown fields survive
	assert.JSONEq(t, `{"mood":"calm","level":3}`, gjson.GetBytes(back.RawOriginal, "x_custom").Raw)
	assert.Equal(t, int64(5), gjson.GetBytes(back.RawOriginal, "character_book.scan_depth").Int())
	assert.JSONEq(t, `{"k":1}`, gjson.GetBytes(back.RawOriginal, "character_book.entries.0.extensions").Raw)
	assert.Equal(t, "before_char", gjson.GetBytes(back.RawOriginal, "character_book.entries.1.position").String())
	assert.Equal(t, int64(7), gjson.GetBytes(back.RawOriginal, "character_book.entries.0.id").Int())
}

func TestAriaMinimalCard(t *testing.T) {
	const aria = `{"name":"Aria","description":"A guide.","first_mes":"Hello traveler."}`
	cd := newTestCodec()
	src := cardPNG(t, aria)
	c, err := cd.ImportPNG(src, "aria.png")
	require.NoError(t, err)
	assert.Equal(t, "Aria", c.Name)
	assert.Equal(t, "A guide.", c.Description)
	assert.Equal(t, "Hello traveler.", c.FirstMessage)
	assert.JSONEq(t, aria, string(c.RawOriginal))

	out, err := cd.ExportPNG(c, src)
	require.NoError(t, err)
	back, err := cd.ImportPNG(out, "aria.png")
	require.NoError(t, err)
	assert.Equal(t, c.Name, back.Name)
	assert.Equal(t, c.Description, back.Description)
	assert.Equal(t, c.FirstMessage, back.FirstMessage)
	assert.Equal(t, c.Personality, back.Personality)
	assert.Equal(t, c.Scenario, back.Scenario)
	assert.Equal(t, c.Tags, back.Tags)
	assert.Equal(t, c.AlternateGreetings, back.AlternateGreetings)
	assert.Equal(t, "Hello traveler.", gjson.GetBytes(back.RawOriginal, "first_mes").String())
}

func TestKaelEnvelopedJSON(t *testing.T) {
	cd := newTestCodec()
	c, err := cd.ImportJSON([]byte(`{"spec":"chara_card_v2","data":{"name":"Kael","tags":"brave, noble","alternate_greetings":["Hi","Yo"]}}`), "kael.json")
	require.NoError(t, err)
	assert.Equal(t, "Kael", c.Name)
	assert.Equal(t, []string{"brave", "noble"}, c.Tags)
	assert.Equal(t, []string{"Hi", "Yo"}, c.AlternateGreetings)
	assert.JSONEq(t, `{"name":"Kael","tags":"brave, noble","alternate_greetings":["Hi","Yo"]}`, string(c.RawOriginal))
}

func TestKaelTagsAndGreetings(t *testing.T) {
	cd := newTestCodec()
	c, err := cd.ImportJSON([]byte(`{"name":"Kael","tags":"brave, , noble ,brave","alternate_greetings":["Hail.","Well met."]}`), "kael.json")
	require.NoError(t, err)
	assert.Equal(t, "Kael", c.Name)
	assert.Equal(t, models.ContainerJSON, c.Source)
	assert.Equal(t, []string{"brave", "noble"}, c.Tags)
	assert.Equal(t, []string{"Hail.", "Well met."}, c.AlternateGreetings)
	out, err := ExportJSON(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n  ")
	assert.Equal(t, `["brave","noble"]`, compact(gjson.GetBytes(out, "data.tags").Raw))
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestQuickReplySlots(t *testing.T) {
	file := `{"qrEnabled":true,"selectedPreset":"Default","quickReplySlots":[
		{"mes":"/roll d20","label":"Roll","enabled":true},
		{"mes":"Tell me more.","title":"More","label":"","hidden":false}
	]}`
	actions, extra, err := ParseQuickReplies([]byte(file))
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 1, actions[0].ID)
	assert.Equal(t, "Roll", actions[0].Label)
	assert.Equal(t, "/roll d20", actions[0].Message)
	assert.Equal(t, 2, actions[1].ID)
	assert.Equal(t, "More", actions[1].Label)

	c := models.NewCharacter("Aria")
	c.QuickReplies = actions
	c.ExtraQRData = extra
	out, err := ExportQuickReplies(c)
	require.NoError(t, err)
	doc := gjson.ParseBytes(out)
	assert.Equal(t, int64(2), doc.Get("version").Int())
	assert.True(t, doc.Get("qrEnabled").Bool())
	assert.Equal(t, "Default", doc.Get("selectedPreset").String())
	assert.False(t, doc.Get("quickReplySlots").Exists())
	assert.Equal(t, "rgba(0, 0, 0, 0)", doc.Get("color").String())
	assert.Equal(t, "/roll d20", doc.Get("qrList.0.message").String())
	assert.False(t, doc.Get("qrList.0.mes").Exists())
	assert.True(t, doc.Get("qrList.0.enabled").Bool())

	again, _, err := ParseQuickReplies(out)
	require.NoError(t, err)
	assert.Equal(t, actions[0].Message, again[0].Message)
	assert.Equal(t, actions[1].Label, again[1].Label)
}

func TestParseQuickRepliesShapes(t *testing.T) {
	actions, extra, err := ParseQuickReplies([]byte(`[{"id":9,"label":"A","message":"a","preventAutoExecute":true}]`))
	require.NoError(t, err)
	assert.Nil(t, extra)
	require.Len(t, actions, 1)
	assert.Equal(t, 9, actions[0].ID)
	assert.True(t, actions[0].PreventAutoExecute)

	actions, _, err = ParseQuickReplies([]byte(`{"name":"set","qrList":[]}`))
	require.NoError(t, err)
	assert.Empty(t, actions)

	_, _, err = ParseQuickReplies([]byte(`{"name":"set"}`))
	assert.ErrorIs(t, err, ErrQRConfigFormat)

	_, _, err = ParseQuickReplies([]byte(`{"qrList": [`))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageQuickReplyJSON, perr.Stage)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestExportQuickRepliesScaffold(t *testing.T) {
	c := models.NewCharacter("Kael")
	out, err := ExportQuickReplies(c)
	require.NoError(t, err)
	doc := gjson.ParseBytes(out)
	assert.Equal(t, "Kael", doc.Get("name").String())
	assert.False(t, doc.Get("disableSend").Bool())
	assert.True(t, doc.Get("qrList").IsArray())
	assert.Empty(t, doc.Get("qrList").Array())
}

func TestMergeLossless(t *testing.T) {
	body := Unwrap([]byte(ariaCard))
	c := FromBody(body)
	first, err := Merge(c)
	require.NoError(t, err)
	for range 3 {
		next, err := Merge(FromBody(first))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(next))
		first = next
	}
	gjson.ParseBytes(body).ForEach(func(k, v gjson.Result) bool {
		if k.Str == "character_book" {
			return true
		}
		assert.JSONEq(t, v.Raw, gjson.GetBytes(first, k.Str).Raw, k.Str)
		return true
	})
}

func TestMergeKeepsKeyOrder(t *testing.T) {
	c := FromBody([]byte(`{"zeta":1,"name":"A","alpha":{"b":2}}`))
	c.Name = "B"
	out, err := Merge(c)
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, `{"zeta":1,"name":"B","alpha":{"b":2}`), s)
	assert.Equal(t, "{}", gjson.Get(s, "extensions").Raw)
	assert.False(t, gjson.Get(s, "character_book").Exists())
}

func TestMergeTypedWins(t *testing.T) {
	c := FromBody([]byte(`{"name":"A","description":"old","tags":"x, y"}`))
	c.Description = "new"
	c.Tags = append(c.Tags, "z")
	out, err := Merge(c)
	require.NoError(t, err)
	assert.Equal(t, "new", gjson.GetBytes(out, "description").String())
	assert.Equal(t, `["x","y","z"]`, gjson.GetBytes(out, "tags").Raw)
}

func TestEnvelopeIdempotence(t *testing.T) {
	bare := `{"name":"Aria","description":"d","custom":true}`
	wrapped := `{"spec":"chara_card_v2","spec_version":"2.0","data":` + bare + `}`
	nested := `{"data":` + bare + `}`
	cd := newTestCodec()
	var payloads []string
	for _, in := range []string{bare, wrapped, nested} {
		c, err := cd.ImportJSON([]byte(in), "a.json")
		require.NoError(t, err)
		p, err := ExportPayload(c)
		require.NoError(t, err)
		payloads = append(payloads, string(p))
		again, err := cd.ImportJSON(p, "a.json")
		require.NoError(t, err)
		p2, err := ExportPayload(again)
		require.NoError(t, err)
		assert.Equal(t, string(p), string(p2))
	}
	assert.Equal(t, payloads[0], payloads[1])
	assert.Equal(t, payloads[0], payloads[2])
	assert.False(t, gjson.Get(payloads[0], "data.data").Exists())
}

func TestUnwrap(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: `{"spec":"chara_card_v2","spec_version":"2.0","data":{"name":"A"}}`, want: `{"name":"A"}`},
		{in: `{"data":{"name":"B"}}`, want: `{"name":"B"}`},
		{in: `{"name":"C","data":{"name":"D"}}`, want: `{"name":"C","data":{"name":"D"}}`},
		{in: `{"spec":"chara_card_v2","data":"x","name":"E"}`, want: `{"spec":"chara_card_v2","data":"x","name":"E"}`},
		{in: `{"data":{"description":"no name"}}`, want: `{"data":{"description":"no name"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, string(Unwrap([]byte(tc.in))))
		})
	}
}

func TestKeysTextStripped(t *testing.T) {
	c := FromBody([]byte(`{"name":"A","character_book":{"entries":[
		{"keys":["a"],"keysText":"a","content":"1"},
		{"keys":["b"],"content":"2"},
		{"keys":["c"],"content":"3"}]}}`))
	c.CharacterBook.Entries[0].SetKeysText("a, aa")
	out, err := Merge(c)
	require.NoError(t, err)
	entries := gjson.GetBytes(out, "character_book.entries").Array()
	require.Len(t, entries, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, entries[i].Get("content").String())
		assert.False(t, entries[i].Get(keysTextKey).Exists())
	}
	assert.Equal(t, `["a","aa"]`, entries[0].Get("keys").Raw)
}

func TestImportErrors(t *testing.T) {
	cd := newTestCodec()
	cases := []struct {
		name string
		file string
		data []byte
		is   error
	}{
		{name: "broken json", file: "a.json", data: []byte(`{"name":`), is: ErrInvalidJSON},
		{name: "array json", file: "a.json", data: []byte(`[1,2]`), is: ErrInvalidJSON},
		{name: "png without card", file: "a.png", data: testPNG(t), is: pngmeta.ErrNoCardData},
		{name: "fake png", file: "a.png", data: []byte("GIF89a"), is: pngmeta.ErrNotPNG},
		{name: "unknown", file: "a.txt", data: []byte("hello"), is: ErrUnsupportedFile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cd.Import(tc.data, tc.file)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.is)
			if errors.Is(tc.is, ErrInvalidJSON) {
				var perr *ParseError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, StageCardJSON, perr.Stage)
			}
		})
	}
}

func TestImportUnknownName(t *testing.T) {
	cd := newTestCodec()
	c, err := cd.Import([]byte("\xef\xbb\xbf"+`{"description":"nameless"}`), "x.json")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultName, c.Name)
	assert.Equal(t, "nameless", c.Description)
}

func TestImportAliases(t *testing.T) {
	cd := newTestCodec()
	c, err := cd.ImportJSON([]byte(`{"char_name":"Old","char_persona":"p","char_greeting":"hi","world_scenario":"w","example_dialogue":"e","first_mes":""}`), "old.json")
	require.NoError(t, err)
	assert.Equal(t, "Old", c.Name)
	assert.Equal(t, "p", c.Description)
	assert.Equal(t, "hi", c.FirstMessage)
	assert.Equal(t, "w", c.Scenario)
	assert.Equal(t, "e", c.MessageExamples)
}

func TestFillMissing(t *testing.T) {
	dst := FromBody([]byte(`{"name":"Aria","description":"kept","tags":["a"]}`))
	src := FromBody([]byte(`{"name":"Other","description":"lost","personality":"new","tags":["A","b"],"alternate_greetings":["hi"],"x_extra":[1]}`))
	require.NoError(t, FillMissing(dst, src))
	assert.Equal(t, "Aria", dst.Name)
	assert.Equal(t, "kept", dst.Description)
	assert.Equal(t, "new", dst.Personality)
	assert.Equal(t, []string{"a", "b"}, dst.Tags)
	assert.Equal(t, []string{"hi"}, dst.AlternateGreetings)
	assert.Equal(t, "[1]", gjson.GetBytes(dst.RawOriginal, "x_extra").Raw)
	assert.Equal(t, "kept", gjson.GetBytes(dst.RawOriginal, "description").String())
}
