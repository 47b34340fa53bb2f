package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vidprofile/vidprofile/internal/export"
)

const maxTitleLen = 70

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fps := export.DefaultFrameRate
		if v := r.URL.Query().Get("fps"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed <= 0 || parsed > 120 {
				WriteError(w, http.StatusBadRequest, "fps must be a number between 0 and 120", "BAD_REQUEST")
				return
			}
			fps = parsed
		}

		rec, err := cfg.Catalog.GetRecord(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		clips := export.ClipsFromLedger(rec.Ledger())
		if len(clips) == 0 {
			WriteError(w, http.StatusConflict, "record has no completed segments", "NOTHING_TO_EXPORT")
			return
		}

		name := rec.Title
		if name == "" {
			name = rec.ID
		}
		edl := export.GenerateEDL(clips, export.Title(name, maxTitleLen), fps)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", export.FileName(name, maxTitleLen)+".edl"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(edl))
	}
}
