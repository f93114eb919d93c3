package library

import (
	"charcards/avatar"
	"charcards/bundle"
	"charcards/card"
	"charcards/config"
	"charcards/models"
	"charcards/pngmeta"
	"charcards/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File is an uploaded or read-from-disk card file.
type File struct {
	Name string
	Data []byte
}

// Export is a ready to save or serve file.
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

type BatchResult struct {
	Imported  []*models.Character `json:"imported"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Failures  []string            `json:"failures"`
}

func (r *BatchResult) fail(name string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, fmt.Sprintf("%s: %v", name, err))
}

// Library ties the codec to persistence.
type Library struct {
	store  storage.FullRepo
	cfg    *config.Config
	codec  *card.Codec
	logger *slog.Logger
	now    func() time.Time
}

func New(store storage.FullRepo, cfg *config.Config, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Library{
		store:  store,
		cfg:    cfg,
		codec:  card.NewCodec(logger, avatar.Options{
			MaxSide:   cfg.AvatarMaxSide,
			MaxPixels: cfg.MaxAvatarPixels,
		}, cfg.ExtraCardKeywords...),
		logger: logger,
		now:    time.Now,
	}
}

// Import decodes one file and stores it as a new character. A png file
// becomes the avatar.
func (l *Library) Import(f File) (*models.Character, error) {
	c, err := l.codec.Import(f.Data, filepath.Base(f.Name))
	source := string(models.ContainerUnknown)
	if c != nil {
		source = string(c.Source)
	}
	importsTotal.WithLabelValues(source, result(err)).Inc()
	if err != nil {
		return nil, err
	}
	if c.Source == models.ContainerPNG {
		if err := l.store.StoreAvatar(c.ID, f.Data); err != nil {
			return nil, fmt.Errorf("store avatar: %w", err)
		}
	}
	saved, err := l.store.UpsertCharacter(c)
	if err != nil {
		if c.Source == models.ContainerPNG {
			if derr := l.store.DeleteAvatar(c.ID); derr != nil {
				l.logger.Warn("failed to drop avatar of unsaved character", "id", c.ID, "error", derr)
			}
		}
		return nil, err
	}
	l.logger.Info("character imported", "id", saved.ID, "name", saved.Name, "file", f.Name, "source", saved.Source)
	return saved, nil
}

// ImportBatch imports files one after another; a failing file never stops
// the batch.
func (l *Library) ImportBatch(ctx context.Context, files []File) *BatchResult {
	res := &BatchResult{Imported: []*models.Character{}, Failures: []string{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			res.fail(f.Name, err)
			continue
		}
		c, err := l.Import(f)
		if err != nil {
			l.logger.Warn("import failed", "file", f.Name, "error", err)
			res.fail(f.Name, err)
			continue
		}
		res.Succeeded++
		res.Imported = append(res.Imported, c)
	}
	l.logger.Info("batch import done", "succeeded", res.Succeeded, "failed", res.Failed)
	return res
}

func isCardFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".json":
		return true
	}
	return false
}

// ImportDir imports every .png and .json file directly inside dirname.
func (l *Library) ImportDir(ctx context.Context, dirname string) (*BatchResult, error) {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, err
	}
	files := []File{}
	res := &BatchResult{}
	for _, e := range entries {
		if e.IsDir() || !isCardFile(e.Name()) {
			continue
		}
		fpath := filepath.Join(dirname, e.Name())
		data, err := os.ReadFile(fpath)
		if err != nil {
			res.fail(fpath, err)
			continue
		}
		files = append(files, File{Name: fpath, Data: data})
	}
	batch := l.ImportBatch(ctx, files)
	batch.Failed += res.Failed
	batch.Failures = append(batch.Failures, res.Failures...)
	return batch, nil
}

// MergeInto fills the gaps of an existing character from another card file.
func (l *Library) MergeInto(id string, f File) (*models.Character, error) {
	dst, err := l.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	src, err := l.codec.Import(f.Data, filepath.Base(f.Name))
	if err != nil {
		return nil, err
	}
	if err := card.FillMissing(dst, src); err != nil {
		return nil, err
	}
	if src.Source == models.ContainerPNG {
		if _, err := l.store.FetchAvatar(id); errors.Is(err, storage.ErrAvatarNotFound) {
			if err := l.store.StoreAvatar(id, f.Data); err != nil {
				return nil, err
			}
		}
	}
	return l.store.UpsertCharacter(dst)
}

func (l *Library) Get(id string) (*models.Character, error) {
	return l.store.GetCharacter(id)
}

func (l *Library) List() ([]*models.Character, error) {
	return l.store.ListCharacters()
}

// Save stores an edited character.
func (l *Library) Save(c *models.Character) (*models.Character, error) {
	c.Touch()
	return l.store.UpsertCharacter(c)
}

// CreateBlank makes an empty character with a placeholder avatar.
func (l *Library) CreateBlank(name string) (*models.Character, error) {
	c := models.NewCharacter(name)
	img, err := avatar.Placeholder(l.cfg.PlaceholderWidth, l.cfg.PlaceholderHeight)
	if err != nil {
		return nil, err
	}
	if err := l.store.StoreAvatar(c.ID, img); err != nil {
		return nil, err
	}
	return l.store.UpsertCharacter(c)
}

// Delete removes the character and releases its avatar.
func (l *Library) Delete(id string) error {
	if err := l.store.RemoveCharacter(id); err != nil {
		return err
	}
	if err := l.store.DeleteAvatar(id); err != nil {
		l.logger.Warn("failed to delete avatar", "id", id, "error", err)
	}
	l.logger.Info("character deleted", "id", id)
	return nil
}

// avatarFor falls back to a placeholder when the character has no image.
func (l *Library) avatarFor(id string) ([]byte, error) {
	img, err := l.store.FetchAvatar(id)
	if errors.Is(err, storage.ErrAvatarNotFound) {
		return avatar.Placeholder(l.cfg.PlaceholderWidth, l.cfg.PlaceholderHeight)
	}
	return img, err
}

func (l *Library) exportJSON(c *models.Character) (*Export, error) {
	data, err := card.ExportJSON(c)
	exportsTotal.WithLabelValues("json", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return &Export{
		FileName:    bundle.SafeName(c.Name) + ".json",
		ContentType: "application/json",
		Data:        data,
	}, nil
}

func (l *Library) exportPNG(c *models.Character) (*Export, error) {
	img, err := l.avatarFor(c.ID)
	if err == nil {
		img, err = l.codec.ExportPNG(c, img)
	}
	exportsTotal.WithLabelValues("png", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return &Export{
		FileName:    bundle.SafeName(c.Name) + ".png",
		ContentType: "image/png",
		Data:        img,
	}, nil
}

func (l *Library) exportQuickReplies(c *models.Character) (*Export, error) {
	data, err := card.ExportQuickReplies(c)
	exportsTotal.WithLabelValues("quickreplies", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return &Export{
		FileName:    bundle.SafeName(c.Name) + "_quickreplies.json",
		ContentType: "application/json",
		Data:        data,
	}, nil
}

func (l *Library) ExportJSON(id string) (*Export, error) {
	c, err := l.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	return l.exportJSON(c)
}

func (l *Library) ExportPNG(id string) (*Export, error) {
	c, err := l.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	return l.exportPNG(c)
}

// AttachQuickReplies replaces the character's quick replies with the
// contents of a quick reply file.
func (l *Library) AttachQuickReplies(id string, data []byte) (*models.Character, error) {
	c, err := l.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	actions, extra, err := card.ParseQuickReplies(data)
	if err != nil {
		return nil, err
	}
	c.QuickReplies = actions
	c.ExtraQRData = extra
	return l.Save(c)
}

func (l *Library) ExportQuickReplies(id string) (*Export, error) {
	c, err := l.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	return l.exportQuickReplies(c)
}

// InspectFile lists the text chunks of a png without importing it.
func (l *Library) InspectFile(data []byte) ([]pngmeta.TextChunk, error) {
	return pngmeta.ListTextChunks(data, l.logger)
}
