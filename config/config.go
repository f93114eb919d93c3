package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "CHARCARDS_"

type Config struct {
	LogFile    string `toml:"LogFile"` // empty means stderr
	LogLevel   string `toml:"LogLevel"`
	DBPATH     string `toml:"DBPATH"`
	ServerAddr string `toml:"ServerAddr"`
	// upload limit for a single multipart request
	MaxUploadMB int64 `toml:"MaxUploadMB"`
	// card keywords accepted on top of the built-in ones
	ExtraCardKeywords []string `toml:"ExtraCardKeywords"`
	// tags that become folders in bundles, first match wins
	CategoryTags      []string `toml:"CategoryTags"`
	AvatarMaxSide     int      `toml:"AvatarMaxSide"`
	// sources declaring more pixels are refused before decoding
	MaxAvatarPixels   int64    `toml:"MaxAvatarPixels"`
	PlaceholderWidth  int      `toml:"PlaceholderWidth"`
	PlaceholderHeight int      `toml:"PlaceholderHeight"`
	ExportDir         string   `toml:"ExportDir"`
}

func Default() *Config {
	return &Config{
		LogLevel:          "info",
		DBPATH:            "charcards.db",
		ServerAddr:        "localhost:3099",
		MaxUploadMB:       32,
		ExtraCardKeywords: []string{},
		CategoryTags:      []string{},
		MaxAvatarPixels:   1 << 25,
		PlaceholderWidth:  400,
		PlaceholderHeight: 600,
		ExportDir:         ".",
	}
}

// LoadConfig reads fn (config.toml when empty). A missing file is not an
// error; .env and CHARCARDS_* variables are applied on top, then defaults
// fill whatever is still unset.
func LoadConfig(fn string) (*Config, error) {
	if fn == "" {
		fn = "config.toml"
	}
	config := &Config{}
	_, err := toml.DecodeFile(fn, config)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	config.fillDefaults()
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_FILE":    &c.LogFile,
		"LOG_LEVEL":   &c.LogLevel,
		"DB_PATH":     &c.DBPATH,
		"SERVER_ADDR": &c.ServerAddr,
		"EXPORT_DIR":  &c.ExportDir,
	}
	for k, dst := range strs {
		if v, ok := lookup(envPrefix + k); ok {
			*dst = v
		}
	}
	ints := map[string]*int{
		"AVATAR_MAX_SIDE":    &c.AvatarMaxSide,
		"PLACEHOLDER_WIDTH":  &c.PlaceholderWidth,
		"PLACEHOLDER_HEIGHT": &c.PlaceholderHeight,
	}
	for k, dst := range ints {
		v, ok := lookup(envPrefix + k)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New(envPrefix + k + ": " + err.Error())
		}
		*dst = n
	}
	int64s := map[string]*int64{
		"MAX_UPLOAD_MB":     &c.MaxUploadMB,
		"MAX_AVATAR_PIXELS": &c.MaxAvatarPixels,
	}
	for k, dst := range int64s {
		v, ok := lookup(envPrefix + k)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return errors.New(envPrefix + k + ": " + err.Error())
		}
		*dst = n
	}
	if v, ok := lookup(envPrefix + "EXTRA_CARD_KEYWORDS"); ok {
		c.ExtraCardKeywords = splitEnv(v)
	}
	if v, ok := lookup(envPrefix + "CATEGORY_TAGS"); ok {
		c.CategoryTags = splitEnv(v)
	}
	return nil
}

func splitEnv(v string) []string {
	resp := []string{}
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			resp = append(resp, p)
		}
	}
	return resp
}

// if any value is empty fill with default
func (c *Config) fillDefaults() {
	def := Default()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DBPATH == "" {
		c.DBPATH = def.DBPATH
	}
	if c.ServerAddr == "" {
		c.ServerAddr = def.ServerAddr
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = def.MaxUploadMB
	}
	if c.ExtraCardKeywords == nil {
		c.ExtraCardKeywords = def.ExtraCardKeywords
	}
	if c.CategoryTags == nil {
		c.CategoryTags = def.CategoryTags
	}
	if c.AvatarMaxSide < 0 {
		c.AvatarMaxSide = 0
	}
	if c.MaxAvatarPixels <= 0 {
		c.MaxAvatarPixels = def.MaxAvatarPixels
	}
	if c.PlaceholderWidth <= 0 {
		c.PlaceholderWidth = def.PlaceholderWidth
	}
	if c.PlaceholderHeight <= 0 {
		c.PlaceholderHeight = def.PlaceholderHeight
	}
	if c.ExportDir == "" {
		c.ExportDir = def.ExportDir
	}
}
