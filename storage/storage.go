package storage

import (
	"charcards/models"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
)

var (
	ErrCharacterNotFound = errors.New("character not found")
	ErrAvatarNotFound    = errors.New("avatar not found")
)

type CharacterRepo interface {
	ListCharacters() ([]*models.Character, error)
	GetCharacter(id string) (*models.Character, error)
	UpsertCharacter(c *models.Character) (*models.Character, error)
	RemoveCharacter(id string) error
}

// AvatarStore keeps one image blob per character id.
type AvatarStore interface {
	StoreAvatar(id string, blob []byte) error
	FetchAvatar(id string) ([]byte, error)
	DeleteAvatar(id string) error
}

type FullRepo interface {
	CharacterRepo
	AvatarStore
	Close() error
}

type ProviderSQL struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// characterRow mirrors the characters table; data holds the full record.
type characterRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Source     string `db:"source"`
	FileName   string `db:"file_name"`
	Favorite   bool   `db:"favorite"`
	Folder     string `db:"folder"`
	Data       string `db:"data"`
	ImportedAt string `db:"imported_at"`
	UpdatedAt  string `db:"updated_at"`
}

func toRow(c *models.Character) (*characterRow, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &characterRow{
		ID:         c.ID,
		Name:       c.Name,
		Source:     string(c.Source),
		FileName:   c.FileName,
		Favorite:   c.Favorite,
		Folder:     c.Folder,
		Data:       string(data),
		ImportedAt: c.ImportedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (r *characterRow) toCharacter() (*models.Character, error) {
	c := &models.Character{}
	if err := json.Unmarshal([]byte(r.Data), c); err != nil {
		return nil, fmt.Errorf("character %s: %w", r.ID, err)
	}
	// columns win over the blob; they are what PATCH style updates touch
	c.ID = r.ID
	c.Name = r.Name
	c.Source = models.ContainerKind(r.Source)
	c.FileName = r.FileName
	c.Favorite = r.Favorite
	c.Folder = r.Folder
	if c.CharacterBook != nil {
		for i := range c.CharacterBook.Entries {
			c.CharacterBook.Entries[i].RefreshKeysText()
		}
	}
	return c, nil
}

func (p ProviderSQL) ListCharacters() ([]*models.Character, error) {
	rows := []characterRow{}
	err := p.db.Select(&rows, "SELECT * FROM characters ORDER BY name COLLATE NOCASE, id;")
	if err != nil {
		return nil, err
	}
	resp := make([]*models.Character, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toCharacter()
		if err != nil {
			p.logger.Warn("skipping unreadable character", "id", rows[i].ID, "error", err)
			continue
		}
		resp = append(resp, c)
	}
	return resp, nil
}

func (p ProviderSQL) GetCharacter(id string) (*models.Character, error) {
	row := characterRow{}
	err := p.db.Get(&row, "SELECT * FROM characters WHERE id=$1;", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toCharacter()
}

func (p ProviderSQL) UpsertCharacter(c *models.Character) (*models.Character, error) {
	row, err := toRow(c)
	if err != nil {
		return nil, err
	}
	query := `
        INSERT OR REPLACE INTO characters (id, name, source, file_name, favorite, folder, data, imported_at, updated_at)
        VALUES (:id, :name, :source, :file_name, :favorite, :folder, :data, :imported_at, :updated_at)
        RETURNING *;`
	stmt, err := p.db.PrepareNamed(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var resp characterRow
	if err := stmt.Get(&resp, row); err != nil {
		return nil, err
	}
	return resp.toCharacter()
}

func (p ProviderSQL) RemoveCharacter(id string) error {
	res, err := p.db.Exec("DELETE FROM characters WHERE id = $1;", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCharacterNotFound, id)
	}
	return nil
}

func (p ProviderSQL) StoreAvatar(id string, blob []byte) error {
	query := "INSERT OR REPLACE INTO avatars (character_id, blob, updated_at) VALUES ($1, $2, $3);"
	_, err := p.db.Exec(query, id, blob, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (p ProviderSQL) FetchAvatar(id string) ([]byte, error) {
	var blob []byte
	err := p.db.Get(&blob, "SELECT blob FROM avatars WHERE character_id = $1;", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAvatarNotFound, id)
	}
	return blob, err
}

// DeleteAvatar is a no-op for ids without a blob.
func (p ProviderSQL) DeleteAvatar(id string) error {
	_, err := p.db.Exec("DELETE FROM avatars WHERE character_id = $1;", id)
	return err
}

func (p ProviderSQL) Close() error {
	return p.db.Close()
}

func NewProviderSQL(dbPath string, logger *slog.Logger) (FullRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	// one connection: :memory: databases are per connection
	db.SetMaxOpenConns(1)
	var version string
	if err := db.Get(&version, "select sqlite_version()"); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("sqlite opened", "path", dbPath, "version", version)
	p := &ProviderSQL{db: db, logger: logger}
	if err := p.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}
