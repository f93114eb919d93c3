package card

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	SpecV2        = "chara_card_v2"
	SpecVersionV2 = "2.0"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Unwrap returns the field-bearing object of a decoded card:
// the data of a v2 envelope, data when only data carries the name, the
// document itself otherwise.
func Unwrap(raw []byte) json.RawMessage {
	doc := gjson.ParseBytes(raw)
	data := doc.Get("data")
	if doc.Get("spec").String() == SpecV2 && data.IsObject() {
		return json.RawMessage(data.Raw)
	}
	if !doc.Get("name").Exists() && data.IsObject() && data.Get("name").Exists() {
		return json.RawMessage(data.Raw)
	}
	return json.RawMessage(bytes.Clone(raw))
}

func isObject(raw []byte) bool {
	return len(raw) > 0 && gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject()
}

// escapeKey makes an object key usable as a gjson/sjson path element.
func escapeKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// jsonArray joins already encoded elements.
func jsonArray(elems [][]byte) []byte {
	out := []byte{'['}
	for i, e := range elems {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, e...)
	}
	return append(out, ']')
}
