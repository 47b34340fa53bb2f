package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidprofile/vidprofile/internal/catalog"
)

const maxBodyBytes = 1 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.CORSOrigins))

	r.Get("/health", healthHandler(cfg))
	if cfg.LocalBlobs != nil {
		// Signed links carry their own authorization.
		r.Get("/blobs/{bucket}/*", blobHandler(cfg))
		r.Head("/blobs/{bucket}/*", blobHandler(cfg))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/users", listUsersHandler(cfg))
		r.Post("/users", createUserHandler(cfg))
		r.Get("/users/{id}", getUserHandler(cfg))
		r.Delete("/users/{id}", deleteUserHandler(cfg))

		r.Get("/templates", listTemplatesHandler(cfg))
		r.Post("/templates", createTemplateHandler(cfg))
		r.Get("/templates/{id}", getTemplateHandler(cfg))
		r.Put("/templates/{id}", updateTemplateHandler(cfg))
		r.Delete("/templates/{id}", deleteTemplateHandler(cfg))

		r.Post("/prompts/generate", generatePromptHandler(cfg))
		r.Get("/sources/preview", previewSourceHandler(cfg))

		r.Get("/videos", listRecordsHandler(cfg))
		r.Post("/videos", createRecordHandler(cfg))
		r.Route("/videos/{id}", func(r chi.Router) {
			r.Get("/", getRecordHandler(cfg))
			r.Put("/", updateRecordHandler(cfg))
			r.Delete("/", deleteRecordHandler(cfg))
			r.Post("/segments", addSegmentHandler(cfg))
			r.Delete("/segments/{index}", deleteSegmentHandler(cfg))
			r.Post("/process", processSegmentHandler(cfg))
			r.Post("/process-pending", processPendingHandler(cfg))
			r.Get("/logs", listLogsHandler(cfg))
			r.Get("/edl", exportEDLHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := cfg.Catalog.StatusCounts(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := StatusResponse{
			Records:     make(map[catalog.RecordStatus]int, len(catalog.RecordStatuses)),
			BlobBackend: cfg.BlobBackend,
		}
		for _, s := range catalog.RecordStatuses {
			resp.Records[s] = counts[s]
			resp.TotalRecords += counts[s]
		}

		// Only report a cached probe; probing runs in the background.
		if cfg.Doctor != nil {
			resp.Tools = cfg.Doctor.Peek()
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// decodeJSON reads a JSON request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
