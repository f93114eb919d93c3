package main

import (
	"bytes"
	"charcards/avatar"
	"charcards/card"
	"charcards/config"
	"charcards/library"
	"charcards/pngmeta"
	"charcards/storage"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	lib    *library.Library
	cfg    *config.Config
	logger *slog.Logger
}

func NewServer(lib *library.Library, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{lib: lib, cfg: cfg, logger: logger}
}

// requestLogger writes one slog record per request.
func (srv *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		srv.logger.Info("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "size", humanize.Bytes(uint64(ww.BytesWritten())),
			"took", time.Since(start), "req_id", middleware.GetReqID(r.Context()))
	})
}

func (srv *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", srv.pingHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/bundle", srv.bundleHandler)
		r.Route("/characters", func(r chi.Router) {
			r.Get("/", srv.listHandler)
			r.Post("/", srv.importHandler)
			r.Post("/blank", srv.blankHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.getHandler)
				r.Patch("/", srv.patchHandler)
				r.Delete("/", srv.deleteHandler)
				r.Post("/merge", srv.mergeHandler)
				r.Get("/card.json", srv.cardJSONHandler)
				r.Get("/card.png", srv.cardPNGHandler)
				r.Put("/quickreplies", srv.putQRHandler)
				r.Get("/quickreplies", srv.getQRHandler)
			})
		})
	})
	return r
}

// ListenAndServe runs until ctx is done or the process gets SIGINT/SIGTERM.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	server := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  time.Second * 30,
		WriteTimeout: time.Second * 60,
	}
	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("Listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (srv *Server) pingHandler(w http.ResponseWriter, req *http.Request) {
	if _, err := w.Write([]byte("pong")); err != nil {
		srv.logger.Error("server ping", "error", err)
	}
}

func statusFor(err error) int {
	var perr *card.ParseError
	switch {
	case errors.Is(err, storage.ErrCharacterNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr),
		errors.Is(err, card.ErrInvalidJSON),
		errors.Is(err, card.ErrQRConfigFormat),
		errors.Is(err, card.ErrUnsupportedFile),
		errors.Is(err, library.ErrLorebookEntry),
		errors.Is(err, pngmeta.ErrNotPNG),
		errors.Is(err, pngmeta.ErrNoCardData),
		errors.Is(err, avatar.ErrImageLoad):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (srv *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		srv.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	srv.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		srv.logger.Warn("failed to write response", "error", err)
	}
}

func (srv *Server) writeFile(w http.ResponseWriter, exp *library.Export) {
	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.FileName))
	if _, err := w.Write(exp.Data); err != nil {
		srv.logger.Warn("failed to write file", "file", exp.FileName, "error", err)
	}
}

func (srv *Server) maxUpload() int64 {
	return srv.cfg.MaxUploadMB << 20
}

func readPart(fh *multipart.FileHeader) (library.File, error) {
	f, err := fh.Open()
	if err != nil {
		return library.File{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return library.File{Name: fh.Filename, Data: data}, err
}

func (srv *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	chars, err := srv.lib.List()
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chars)
}

// importHandler takes any number of multipart "file" fields.
func (srv *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, srv.maxUpload())
	if err := r.ParseMultipartForm(srv.maxUpload()); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	files := []library.File{}
	res := &library.BatchResult{}
	for _, fh := range r.MultipartForm.File["file"] {
		f, err := readPart(fh)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 && res.Failed == 0 {
		http.Error(w, "no file fields in form", http.StatusBadRequest)
		return
	}
	batch := srv.lib.ImportBatch(r.Context(), files)
	mergeBatch(batch, res)
	status := http.StatusOK
	if batch.Succeeded == 0 {
		status = http.StatusBadRequest
	}
	srv.writeJSON(w, status, batch)
}

func (srv *Server) blankHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "failed to decode request body", http.StatusBadRequest)
			return
		}
	}
	c, err := srv.lib.CreateBlank(req.Name)
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, c)
}

func (srv *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	c, err := srv.lib.Get(chi.URLParam(r, "id"))
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, c)
}

func (srv *Server) patchHandler(w http.ResponseWriter, r *http.Request) {
	patch := &library.Patch{}
	if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
		http.Error(w, "failed to decode request body", http.StatusBadRequest)
		return
	}
	c, err := srv.lib.Update(chi.URLParam(r, "id"), patch)
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, c)
}

func (srv *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := srv.lib.Delete(chi.URLParam(r, "id")); err != nil {
		srv.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) mergeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, srv.maxUpload())
	if err := r.ParseMultipartForm(srv.maxUpload()); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	_, fh, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "failed to get file from form", http.StatusBadRequest)
		return
	}
	f, err := readPart(fh)
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	c, err := srv.lib.MergeInto(chi.URLParam(r, "id"), f)
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, c)
}

func (srv *Server) cardJSONHandler(w http.ResponseWriter, r *http.Request) {
	exp, err := srv.lib.ExportJSON(chi.URLParam(r, "id"))
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeFile(w, exp)
}

func (srv *Server) cardPNGHandler(w http.ResponseWriter, r *http.Request) {
	exp, err := srv.lib.ExportPNG(chi.URLParam(r, "id"))
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeFile(w, exp)
}

func (srv *Server) putQRHandler(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, srv.maxUpload()))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	c, err := srv.lib.AttachQuickReplies(chi.URLParam(r, "id"), data)
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, c)
}

func (srv *Server) getQRHandler(w http.ResponseWriter, r *http.Request) {
	exp, err := srv.lib.ExportQuickReplies(chi.URLParam(r, "id"))
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	srv.writeFile(w, exp)
}

func (srv *Server) bundleHandler(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	report, err := srv.lib.ExportBundle(r.Context(), &buf)
	if err != nil {
		srv.fail(w, r, err)
		return
	}
	if len(report.Failures) > 0 {
		srv.logger.Warn("bundle has failures", "failures", report.Failures)
	}
	srv.writeFile(w, &library.Export{
		FileName:    report.Name,
		ContentType: "application/zip",
		Data:        buf.Bytes(),
	})
}
