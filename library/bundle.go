package library

import (
	"charcards/bundle"
	"charcards/models"
	"context"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
)

type BundleReport struct {
	Name         string   `json:"name"`
	Characters   int      `json:"characters"`
	PNG          int      `json:"png"`
	JSONFallback int      `json:"jsonFallback"`
	QuickReplies int      `json:"quickReplies"`
	Failures     []string `json:"failures"`
	Bytes        int64    `json:"bytes"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (l *Library) folderFor(c *models.Character) string {
	if c.Folder != "" {
		return bundle.SafeName(c.Folder)
	}
	return bundle.FolderFor(c.Tags, l.cfg.CategoryTags)
}

// ExportBundle writes every character into one zip archive: a png per
// character, json when the png cannot be produced, plus its quick reply
// file when it has one.
func (l *Library) ExportBundle(ctx context.Context, w io.Writer) (*BundleReport, error) {
	chars, err := l.store.ListCharacters()
	if err != nil {
		return nil, err
	}
	now := l.now()
	report := &BundleReport{Name: bundle.ArchiveName(now), Failures: []string{}}
	names := bundle.NewNames()
	entries := []bundle.Entry{}
	add := func(folder string, exp *Export) {
		ext := path.Ext(exp.FileName)
		base := strings.TrimSuffix(exp.FileName, ext)
		entries = append(entries, bundle.Entry{
			Folder: folder,
			Name:   names.Unique(folder, base, ext),
			Data:   exp.Data,
		})
	}
	for _, c := range chars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		folder := l.folderFor(c)
		exp, err := l.exportPNG(c)
		if err != nil {
			l.logger.Warn("png export failed, bundling json", "id", c.ID, "name", c.Name, "error", err)
			bundleFallbacksTotal.Inc()
			exp, err = l.exportJSON(c)
			if err != nil {
				l.logger.Error("character skipped from bundle", "id", c.ID, "error", err)
				report.Failures = append(report.Failures, c.Name+": "+err.Error())
				continue
			}
			report.JSONFallback++
		} else {
			report.PNG++
		}
		add(folder, exp)
		report.Characters++
		if !c.HasQuickReplies() {
			continue
		}
		qr, err := l.exportQuickReplies(c)
		if err != nil {
			report.Failures = append(report.Failures, c.Name+" quick replies: "+err.Error())
			continue
		}
		add(folder, qr)
		report.QuickReplies++
	}
	cw := &countingWriter{w: w}
	if err := bundle.Write(cw, entries, now); err != nil {
		return nil, err
	}
	report.Bytes = cw.n
	l.logger.Info("bundle written", "name", report.Name, "characters", report.Characters,
		"json_fallback", report.JSONFallback, "size", humanize.Bytes(uint64(cw.n)))
	return report, nil
}
