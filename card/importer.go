package card

import (
	"bytes"
	"charcards/avatar"
	"charcards/models"
	"charcards/pngmeta"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Codec turns card files into records and back.
type Codec struct {
	logger        *slog.Logger
	extraKeywords []string
	avatarOpts    avatar.Options
}

func NewCodec(logger *slog.Logger, avatarOpts avatar.Options, extraKeywords ...string) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{
		logger:        logger,
		extraKeywords: extraKeywords,
		avatarOpts:    avatarOpts,
	}
}

func cleanJSON(data []byte, stage string) ([]byte, error) {
	data = bytes.TrimPrefix(bytes.TrimSpace(data), utf8BOM)
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Stage: stage, Err: ErrInvalidJSON}
	}
	return data, nil
}

// ImportJSON reads a .json card, enveloped or not.
func (cd *Codec) ImportJSON(data []byte, fileName string) (*models.Character, error) {
	data, err := cleanJSON(data, StageCardJSON)
	if err != nil {
		return nil, err
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, &ParseError{Stage: StageCardJSON, Err: fmt.Errorf("%w: not an object", ErrInvalidJSON)}
	}
	c := FromBody(Unwrap(data))
	c.Source = models.ContainerJSON
	c.FileName = fileName
	if c.Name == models.DefaultName {
		cd.logger.Warn("card has no name", "file", fileName)
	}
	return c, nil
}

// ImportPNG reads a card embedded in png text chunks.
func (cd *Codec) ImportPNG(data []byte, fileName string) (*models.Character, error) {
	cc, err := pngmeta.ReadCardChunk(data, cd.logger, cd.extraKeywords...)
	if err != nil {
		return nil, err
	}
	cd.logger.Debug("card chunk found", "file", fileName, "chunk", cc.ChunkType,
		"keyword", cc.Keyword, "fallback", cc.Fallback)
	c := FromBody(Unwrap(cc.Raw))
	c.Source = models.ContainerPNG
	c.FileName = fileName
	return c, nil
}

// Import dispatches on content first, extension second.
func (cd *Codec) Import(data []byte, fileName string) (*models.Character, error) {
	if pngmeta.HasSignature(data) {
		return cd.ImportPNG(data, fileName)
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		return nil, fmt.Errorf("%s: %w", fileName, pngmeta.ErrNotPNG)
	case ".json":
		return cd.ImportJSON(data, fileName)
	}
	trimmed := bytes.TrimPrefix(bytes.TrimSpace(data), utf8BOM)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return cd.ImportJSON(data, fileName)
	}
	return nil, fmt.Errorf("%s: %w", fileName, ErrUnsupportedFile)
}

// ExportPNG renders the avatar to a fresh png and embeds the card in it.
func (cd *Codec) ExportPNG(c *models.Character, avatarData []byte) ([]byte, error) {
	img, err := avatar.Normalize(avatarData, cd.avatarOpts)
	if err != nil {
		return nil, err
	}
	payload, err := ExportPayload(c)
	if err != nil {
		return nil, err
	}
	return pngmeta.WriteCardChunk(img, payload)
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func appendNew(dst, src []string, fold bool) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s || (fold && strings.EqualFold(d, s)) {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

// FillMissing merges src into dst without overwriting anything dst already
// has. Raw keys unknown to dst are appended to its RawOriginal.
func FillMissing(dst, src *models.Character) error {
	if dst.Name == "" || dst.Name == models.DefaultName {
		if src.Name != "" && src.Name != models.DefaultName {
			dst.Name = src.Name
		}
	}
	fillString(&dst.Description, src.Description)
	fillString(&dst.Personality, src.Personality)
	fillString(&dst.Scenario, src.Scenario)
	fillString(&dst.FirstMessage, src.FirstMessage)
	fillString(&dst.MessageExamples, src.MessageExamples)
	fillString(&dst.CreatorNotes, src.CreatorNotes)
	fillString(&dst.SystemPrompt, src.SystemPrompt)
	fillString(&dst.PostHistoryInstructions, src.PostHistoryInstructions)
	fillString(&dst.Creator, src.Creator)
	fillString(&dst.CharacterVersion, src.CharacterVersion)
	dst.Tags = appendNew(nonNil(dst.Tags), src.Tags, true)
	dst.AlternateGreetings = appendNew(nonNil(dst.AlternateGreetings), src.AlternateGreetings, false)
	if dst.CharacterBook == nil && src.CharacterBook != nil {
		dst.CharacterBook = src.CharacterBook
	}
	if !isObject(dst.Extensions) && isObject(src.Extensions) {
		dst.Extensions = src.Extensions
	}
	dst.Touch()
	if !isObject(src.RawOriginal) {
		return nil
	}
	raw := base(dst.RawOriginal)
	var err error
	gjson.ParseBytes(src.RawOriginal).ForEach(func(k, v gjson.Result) bool {
		if k.Str == "" {
			return true
		}
		key := escapeKey(k.Str)
		if gjson.GetBytes(raw, key).Exists() {
			return true
		}
		raw, err = sjson.SetRawBytes(raw, key, []byte(v.Raw))
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("fill raw: %w", err)
	}
	dst.RawOriginal = raw
	return nil
}
