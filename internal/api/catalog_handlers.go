package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vidprofile/vidprofile/internal/catalog"
)

func listUsersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := cfg.Catalog.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		resp := UsersResponse{Users: make([]UserResponse, len(users))}
		for i, u := range users {
			resp.Users[i] = UserToResponse(u)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createUserHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.UserInput
		if !decodeJSON(w, r, &req) {
			return
		}
		u, err := cfg.Catalog.CreateUser(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, UserToResponse(u))
	}
}

func getUserHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := cfg.Catalog.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, UserToResponse(u))
	}
}

func deleteUserHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Catalog.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listTemplatesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := catalog.TemplateFilter{Category: catalog.Category(q.Get("category"))}
		if v := q.Get("active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "active must be true or false", "BAD_REQUEST")
				return
			}
			filter.Active = &active
		}

		templates, err := cfg.Catalog.ListTemplates(r.Context(), filter)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		resp := TemplatesResponse{Templates: make([]TemplateResponse, len(templates))}
		for i, t := range templates {
			resp.Templates[i] = TemplateToResponse(t)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.TemplateInput
		if !decodeJSON(w, r, &req) {
			return
		}
		t, err := cfg.Catalog.CreateTemplate(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, TemplateToResponse(t))
	}
}

func getTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := cfg.Catalog.GetTemplate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TemplateToResponse(t))
	}
}

func updateTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.TemplateUpdate
		if !decodeJSON(w, r, &req) {
			return
		}
		t, err := cfg.Catalog.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TemplateToResponse(t))
	}
}

func deleteTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Catalog.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func generatePromptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GeneratePromptRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.TemplateID == "" || req.SourceURL == "" {
			WriteError(w, http.StatusBadRequest, "template_id and source_url are required", "BAD_REQUEST")
			return
		}
		res, err := cfg.Catalog.GeneratePrompt(r.Context(), req.TemplateID, req.SourceURL)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func previewSourceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link := r.URL.Query().Get("url")
		if link == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}
		info, err := cfg.Catalog.PreviewSource(r.Context(), link)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, info)
	}
}
