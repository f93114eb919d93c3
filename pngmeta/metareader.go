package pngmeta

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// PrimaryKeyword is the keyword written on export.
const PrimaryKeyword = "chara"

// CardKeywords are the chunk keywords known to carry character cards.
var CardKeywords = []string{PrimaryKeyword, "ccv3", "character", "chara_card_v2", "chara_card_v3"}

var (
	errInvalidJSON = errors.New("invalid json")
	errNotObject   = errors.New("json is not an object")
)

// CardChunk is the card payload found in a png, envelope still attached.
type CardChunk struct {
	ChunkType string
	Keyword   string
	// Fallback is set when the chunk keyword was not a known card keyword.
	Fallback bool
	Raw      json.RawMessage
}

type payloadStrategy struct {
	name string
	fn   func(text string) ([]byte, error)
}

// some producers store the json as is instead of base64
var payloadStrategies = []payloadStrategy{
	{"base64", decodeBase64JSON},
	{"json", decodeRawJSON},
}

func decodeBase64JSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, err
		}
	}
	return jsonObject(data)
}

func decodeRawJSON(text string) ([]byte, error) {
	return jsonObject([]byte(strings.TrimSpace(text)))
}

func jsonObject(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	if !gjson.ValidBytes(data) {
		return nil, errInvalidJSON
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, errNotObject
	}
	return data, nil
}

// Interpret decodes chunk text into a json object, base64 first.
func Interpret(text string) (json.RawMessage, error) {
	var errs []error
	for _, s := range payloadStrategies {
		data, err := s.fn(text)
		if err == nil {
			return json.RawMessage(data), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}
	return nil, errors.Join(errs...)
}

// HasName reports a name at the top level or one envelope level down. Deeper
// nesting is not probed.
func HasName(raw []byte) bool {
	return gjson.GetBytes(raw, "name").Exists() || gjson.GetBytes(raw, "data.name").Exists()
}

func looksLikeCard(text string) bool {
	s := strings.TrimSpace(text)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "ey")
}

func isCardKeyword(tc *TextChunk, keywords []string) bool {
	if tc.Type == ITXt && tc.Keyword == "" {
		return true
	}
	for _, kw := range keywords {
		if strings.EqualFold(tc.Keyword, kw) {
			return true
		}
	}
	return false
}

// ListTextChunks decodes every text chunk in byte order. Chunks that fail to
// decode are skipped; a truncated tail ends the scan without an error.
func ListTextChunks(data []byte, logger *slog.Logger) ([]TextChunk, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pr, err := NewPNGStepReader(data)
	if err != nil {
		return nil, err
	}
	resp := []TextChunk{}
	for {
		chunk, err := pr.Next()
		if err != nil {
			if errors.Is(err, ErrTruncatedChunk) {
				logger.Debug("png scan stopped at truncated chunk", "error", err)
			}
			break
		}
		decode, ok := textDecoders[chunk.Type]
		if !ok {
			continue
		}
		if !chunk.Valid() {
			logger.Debug("text chunk crc mismatch", "type", chunk.Type, "offset", chunk.Offset)
		}
		tc, err := decode(chunk.Data)
		if err != nil {
			logger.Debug("failed to decode text chunk", "type", chunk.Type, "offset", chunk.Offset, "error", err)
			continue
		}
		resp = append(resp, *tc)
	}
	return resp, nil
}

// ReadCardChunk finds the embedded card in a png buffer. Chunks under a known
// keyword win in encounter order; otherwise the first json-looking chunk that
// carries a name is accepted.
func ReadCardChunk(data []byte, logger *slog.Logger, extraKeywords ...string) (*CardChunk, error) {
	if logger == nil {
		logger = slog.Default()
	}
	texts, err := ListTextChunks(data, logger)
	if err != nil {
		return nil, err
	}
	keywords := append(append([]string{}, CardKeywords...), extraKeywords...)
	fallback := []*TextChunk{}
	for i := range texts {
		tc := &texts[i]
		if isCardKeyword(tc, keywords) {
			raw, err := Interpret(tc.Text)
			if err == nil {
				return &CardChunk{ChunkType: tc.Type, Keyword: tc.Keyword, Raw: raw}, nil
			}
			logger.Debug("card keyword chunk did not parse", "type", tc.Type, "keyword", tc.Keyword, "error", err)
		}
		if looksLikeCard(tc.Text) {
			fallback = append(fallback, tc)
		}
	}
	for _, tc := range fallback {
		raw, err := Interpret(tc.Text)
		if err != nil || !HasName(raw) {
			continue
		}
		logger.Info("card found in fallback chunk", "type", tc.Type, "keyword", tc.Keyword)
		return &CardChunk{ChunkType: tc.Type, Keyword: tc.Keyword, Fallback: true, Raw: raw}, nil
	}
	return nil, ErrNoCardData
}
