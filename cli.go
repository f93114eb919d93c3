package main

import (
	"charcards/bundle"
	"charcards/library"
	"charcards/pngmeta"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the http api",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if addr == "" {
				addr = cfg.ServerAddr
			}
			srv := NewServer(a.lib, cfg, logger)
			return srv.ListenAndServe(cmd.Context(), addr)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func printBatch(w io.Writer, res *library.BatchResult) {
	for _, c := range res.Imported {
		fmt.Fprintf(w, "imported %s (%s) from %s\n", c.Name, c.ID, c.FileName)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "failed   %s\n", f)
	}
	fmt.Fprintf(w, "%d imported, %d failed\n", res.Succeeded, res.Failed)
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|dir>...",
		Short: "Import png or json cards; directories are scanned one level deep",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			files := []library.File{}
			total := &library.BatchResult{}
			for _, p := range args {
				info, err := os.Stat(p)
				if err != nil {
					total.Failed++
					total.Failures = append(total.Failures, err.Error())
					continue
				}
				if info.IsDir() {
					res, err := a.lib.ImportDir(cmd.Context(), p)
					if err != nil {
						return err
					}
					mergeBatch(total, res)
					continue
				}
				data, err := os.ReadFile(p)
				if err != nil {
					total.Failed++
					total.Failures = append(total.Failures, err.Error())
					continue
				}
				files = append(files, library.File{Name: p, Data: data})
			}
			if len(files) > 0 {
				mergeBatch(total, a.lib.ImportBatch(cmd.Context(), files))
			}
			printBatch(cmd.OutOrStdout(), total)
			if total.Succeeded == 0 && total.Failed > 0 {
				return errors.New("nothing imported")
			}
			return nil
		}),
	}
}

func mergeBatch(dst, src *library.BatchResult) {
	dst.Imported = append(dst.Imported, src.Imported...)
	dst.Succeeded += src.Succeeded
	dst.Failed += src.Failed
	dst.Failures = append(dst.Failures, src.Failures...)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.png>",
		Short: "Show the text chunks of a png and the card they carry",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			chunks, err := a.lib.InspectFile(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tKEYWORD\tCOMPRESSED\tSIZE")
			for _, tc := range chunks {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", tc.Type, tc.Keyword, tc.Compressed,
					humanize.Bytes(uint64(len(tc.Text))))
			}
			tw.Flush()
			cc, err := pngmeta.ReadCardChunk(data, logger, cfg.ExtraCardKeywords...)
			if err != nil {
				fmt.Fprintf(out, "card: %v\n", err)
				return nil
			}
			fmt.Fprintf(out, "card: %s chunk %q fallback=%v, %s of json\n", cc.ChunkType, cc.Keyword,
				cc.Fallback, humanize.Bytes(uint64(len(cc.Raw))))
			return nil
		}),
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored characters",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			chars, err := a.lib.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tTAGS\tFAV\tUPDATED")
			for _, c := range chars {
				fav := ""
				if c.Favorite {
					fav = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Source,
					strings.Join(c.Tags, ","), fav, humanize.Time(c.UpdatedAt))
			}
			return tw.Flush()
		}),
	}
}

func writeExport(w io.Writer, exp *library.Export) error {
	if err := os.MkdirAll(cfg.ExportDir, 0755); err != nil {
		return err
	}
	fpath := filepath.Join(cfg.ExportDir, exp.FileName)
	if err := os.WriteFile(fpath, exp.Data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s (%s)\n", fpath, humanize.Bytes(uint64(len(exp.Data))))
	return nil
}

func newExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a character as png or json into the export dir",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			var exp *library.Export
			var err error
			switch format {
			case "png":
				exp, err = a.lib.ExportPNG(args[0])
			case "json":
				exp, err = a.lib.ExportJSON(args[0])
			default:
				return fmt.Errorf("unknown format %q, want png or json", format)
			}
			if err != nil {
				return err
			}
			return writeExport(cmd.OutOrStdout(), exp)
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "png", "png or json")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a character and its avatar",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.lib.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}

func newQRCmd() *cobra.Command {
	qrCmd := &cobra.Command{Use: "qr", Short: "Quick reply sets"}
	attachCmd := &cobra.Command{
		Use:   "attach <id> <file.json>",
		Short: "Attach a quick reply file to a character",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			c, err := a.lib.AttachQuickReplies(args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d quick replies\n", c.Name, len(c.QuickReplies))
			return nil
		}),
	}
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the character's quick reply file into the export dir",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			exp, err := a.lib.ExportQuickReplies(args[0])
			if err != nil {
				return err
			}
			return writeExport(cmd.OutOrStdout(), exp)
		}),
	}
	qrCmd.AddCommand(attachCmd, exportCmd)
	return qrCmd
}

func newBundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle",
		Short: "Export every character into a dated zip archive",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := os.MkdirAll(cfg.ExportDir, 0755); err != nil {
				return err
			}
			fpath := filepath.Join(cfg.ExportDir, bundle.ArchiveName(time.Now()))
			f, err := os.Create(fpath)
			if err != nil {
				return err
			}
			report, err := a.lib.ExportBundle(cmd.Context(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(fpath)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s: %d characters (%d as json), %d quick reply files, %s\n",
				fpath, report.Characters, report.JSONFallback, report.QuickReplies,
				humanize.Bytes(uint64(report.Bytes)))
			for _, f := range report.Failures {
				fmt.Fprintf(out, "failed   %s\n", f)
			}
			return nil
		}),
	}
}
