package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"newswave/internal/nw"
)

// maxBlobSize bounds gateway uploads.
const maxBlobSize = 8 << 20

type gatewayPutResponse struct {
	Ref string `json:"ref"`
}

// gatewayRoutes serves the byte-level content gateway. Every stored blob is
// also exposed as a one-entry directory at <ref>/0.
func (s *Server) gatewayRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.PutBlob)
	r.Get("/{ref}", s.GetBlob)
	r.Get("/{ref}/0", s.GetBlob)
	return r
}

// PutBlob stores the raw request body and returns its reference.
func (s *Server) PutBlob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobSize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty blob", http.StatusBadRequest)
		return
	}

	ref, err := s.blobs.PutBytes(r.Context(), data)
	if err != nil {
		s.logger.Error("gateway put failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, gatewayPutResponse{Ref: ref})
}

// GetBlob returns the raw bytes stored under a reference.
func (s *Server) GetBlob(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	data, err := s.blobs.GetBytes(r.Context(), ref)
	if err != nil {
		if errors.Is(err, nw.ErrContentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}
