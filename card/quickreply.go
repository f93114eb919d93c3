package card

import (
	"charcards/models"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

const (
	qrListKey  = "qrList"
	qrSlotsKey = "quickReplySlots"
)

// qrScaffold is the set file layout written when nothing was imported.
const qrScaffold = `{"version":2,"name":"","disableSend":false,"placeBeforeInput":false,` +
	`"injectInput":false,"color":"rgba(0, 0, 0, 0)","onlyBorderColor":false,"qrList":[]}`

var (
	qrLabelKeys   = []string{"label", "title"}
	qrMessageKeys = []string{"message", "mes"}
)

// ParseQuickReplies reads a quick reply file: an object holding its actions
// under qrList or quickReplySlots, or a bare array of actions. The object
// itself is returned for re-export.
func ParseQuickReplies(data []byte) ([]models.QuickReplyAction, json.RawMessage, error) {
	data, err := cleanJSON(data, StageQuickReplyJSON)
	if err != nil {
		return nil, nil, err
	}
	doc := gjson.ParseBytes(data)
	var list gjson.Result
	var extra json.RawMessage
	switch {
	case doc.IsArray():
		list = doc
	case doc.IsObject():
		for _, k := range []string{qrListKey, qrSlotsKey} {
			if v := doc.Get(k); v.IsArray() {
				list = v
				break
			}
		}
		extra = json.RawMessage(doc.Raw)
	}
	if !list.IsArray() {
		return nil, nil, ErrQRConfigFormat
	}
	actions := []models.QuickReplyAction{}
	for i, v := range list.Array() {
		if !v.IsObject() {
			continue
		}
		a := models.QuickReplyAction{
			ID:                 i + 1,
			Label:              pickString(v, qrLabelKeys),
			Message:            pickString(v, qrMessageKeys),
			PreventAutoExecute: v.Get("preventAutoExecute").Bool(),
			Raw:                json.RawMessage(v.Raw),
		}
		if id := v.Get("id"); id.Type == gjson.Number {
			a.ID = int(id.Int())
		}
		actions = append(actions, a)
	}
	return actions, extra, nil
}

func mergeAction(a *models.QuickReplyAction) ([]byte, error) {
	return applyOverlays(base(a.Raw), []overlay{
		{key: "mes", del: true},
		{key: "id", value: a.ID},
		{key: "label", value: a.Label},
		{key: "message", value: a.Message},
		{key: "preventAutoExecute", value: a.PreventAutoExecute},
	})
}

// ExportQuickReplies writes the character's quick reply set file.
func ExportQuickReplies(c *models.Character) ([]byte, error) {
	doc, err := sjson.SetBytes([]byte(qrScaffold), "name", c.Name)
	if err != nil {
		return nil, err
	}
	if isObject(c.ExtraQRData) {
		gjson.ParseBytes(c.ExtraQRData).ForEach(func(k, v gjson.Result) bool {
			if k.Str == "" || k.Str == qrSlotsKey || k.Str == qrListKey {
				return true
			}
			doc, err = sjson.SetRawBytes(doc, escapeKey(k.Str), []byte(v.Raw))
			return err == nil
		})
		if err != nil {
			return nil, fmt.Errorf("quick reply overlay: %w", err)
		}
	}
	actions := make([][]byte, 0, len(c.QuickReplies))
	for i := range c.QuickReplies {
		raw, err := mergeAction(&c.QuickReplies[i])
		if err != nil {
			return nil, fmt.Errorf("quick reply %d: %w", i, err)
		}
		actions = append(actions, raw)
	}
	doc, err = sjson.SetRawBytes(doc, qrListKey, jsonArray(actions))
	if err != nil {
		return nil, err
	}
	return pretty.PrettyOptions(doc, jsonExportOptions), nil
}
