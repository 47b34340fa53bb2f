package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidprofile/vidprofile/internal/blobstore"
)

// blobHandler serves objects from the local backend behind signed links.
func blobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket := chi.URLParam(r, "bucket")
		key := chi.URLParam(r, "*")
		q := r.URL.Query()

		f, err := cfg.LocalBlobs.Open(bucket, key, q.Get("expires"), q.Get("sig"))
		switch {
		case err == nil:
		case errors.Is(err, blobstore.ErrSignatureInvalid):
			WriteError(w, http.StatusForbidden, "invalid signature", "FORBIDDEN")
			return
		case errors.Is(err, blobstore.ErrSignatureExpired):
			WriteError(w, http.StatusForbidden, "link expired", "LINK_EXPIRED")
			return
		default:
			writeServiceError(w, cfg.Logger, err)
			return
		}
		defer f.Close()

		if err := cfg.Playback.Serve(w, r, f, key); err != nil {
			cfg.Logger.Error("failed to serve blob", "bucket", bucket, "key", key, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to serve blob", "INTERNAL_ERROR")
		}
	}
}
