package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/catalog"
	"github.com/vidprofile/vidprofile/internal/processing"
)

func listRecordsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, okLimit := queryInt(r, "limit")
		offset, okOffset := queryInt(r, "offset")
		if !okLimit || !okOffset {
			WriteError(w, http.StatusBadRequest, "limit and offset must be non-negative integers", "BAD_REQUEST")
			return
		}

		status := catalog.RecordStatus(q.Get("status"))
		if status != "" && !status.Valid() {
			WriteError(w, http.StatusBadRequest, "unknown status", "BAD_REQUEST")
			return
		}

		records, err := cfg.Catalog.ListRecords(r.Context(), catalog.RecordFilter{
			Status:  status,
			OwnerID: q.Get("owner_id"),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		resp := RecordsResponse{Records: make([]RecordResponse, len(records))}
		for i, rec := range records {
			resp.Records[i] = RecordToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createRecordHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.RecordInput
		if !decodeJSON(w, r, &req) {
			return
		}
		rec, err := cfg.Catalog.CreateRecord(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, recordWithLinks(r.Context(), cfg, rec))
	}
}

func getRecordHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := cfg.Catalog.GetRecord(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, recordWithLinks(r.Context(), cfg, rec))
	}
}

func updateRecordHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.RecordUpdate
		if !decodeJSON(w, r, &req) {
			return
		}
		rec, err := cfg.Catalog.UpdateRecord(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, recordWithLinks(r.Context(), cfg, rec))
	}
}

func deleteRecordHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Catalog.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.SegmentInput
		if !decodeJSON(w, r, &req) {
			return
		}
		rec, index, err := cfg.Catalog.AddSegment(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, SegmentAddedResponse{
			Index:  index,
			Record: recordWithLinks(r.Context(), cfg, rec),
		})
	}
}

func deleteSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "segment index must be an integer", "BAD_REQUEST")
			return
		}
		rec, removed, err := cfg.Catalog.DeleteSegment(r.Context(), chi.URLParam(r, "id"), index)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SegmentDeletedResponse{
			Removed: SegmentResponse{Index: index, Entry: removed},
			Record:  recordWithLinks(r.Context(), cfg, rec),
		})
	}
}

func processSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processing.SegmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		update, err := cfg.Processor.ProcessSegment(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		rec, err := cfg.Catalog.GetRecord(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProcessResponse{
			Update: update,
			Record: recordWithLinks(r.Context(), cfg, rec),
		})
	}
}

func processPendingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		outcomes, err := cfg.Processor.ProcessPending(r.Context(), id)
		if err != nil && len(outcomes) == 0 {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		rec, gerr := cfg.Catalog.GetRecord(r.Context(), id)
		if gerr != nil {
			writeServiceError(w, cfg.Logger, gerr)
			return
		}

		status := http.StatusOK
		if err != nil {
			// Partial run: report what happened with the failing step's status.
			status, _ = statusFor(err)
		}
		WriteJSON(w, status, ProcessPendingResponse{
			Outcomes: outcomes,
			Record:   recordWithLinks(r.Context(), cfg, rec),
		})
	}
}

func listLogsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryInt(r, "limit")
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer", "BAD_REQUEST")
			return
		}
		logs, err := cfg.Catalog.ListLogs(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if logs == nil {
			logs = []*catalog.ProcessingLogEntry{}
		}
		WriteJSON(w, http.StatusOK, LogsResponse{Logs: logs})
	}
}

// recordWithLinks renders rec with time-limited download links for its
// source and every published segment. A link that cannot be signed is left
// out.
func recordWithLinks(ctx context.Context, cfg ServerConfig, rec *catalog.VideoRecord) RecordResponse {
	resp := RecordToResponse(rec)
	if cfg.Gateway == nil {
		return resp
	}

	sign := func(key string) string {
		u, err := cfg.Gateway.PresignedReadURL(ctx, blobstore.Ref{Bucket: rec.SourceBucket, Key: key}, cfg.PresignTTL)
		if err != nil {
			cfg.Logger.Warn("failed to presign blob", "record_id", rec.ID, "key", key, "error", err)
			return ""
		}
		return u
	}

	if rec.HasSource() {
		resp.SourceDownloadURL = sign(rec.SourceKey)
	}
	for i := range resp.Segments {
		if s := &resp.Segments[i]; s.HasOutput() {
			s.DownloadURL = sign(*s.OutputRef)
		}
	}
	return resp
}
