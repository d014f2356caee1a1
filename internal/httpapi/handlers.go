package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kieranveyl/knowledgevault/internal/publish"
	"github.com/kieranveyl/knowledgevault/internal/query"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

type saveDraftRequest struct {
	BodyMD string   `json:"body_md"`
	Tags   []string `json:"tags"`
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	noteID := r.PathValue("noteID")
	var req saveDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, &vault.ValidationError{Errors: []string{"invalid request body"}})
		return
	}
	now := time.Now()
	d, err := s.store.SaveDraft(r.Context(), vault.Draft{NoteID: noteID, BodyMD: req.BodyMD, Tags: req.Tags, AutosaveTS: now})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"note_id":     d.NoteID,
		"autosave_ts": d.AutosaveTS,
		"status":      "saved",
	})
}

type publishRequest struct {
	Collections []string `json:"collections"`
	Label       string   `json:"label"`
	ClientToken string   `json:"client_token"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	noteID := r.PathValue("noteID")
	var req publishRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, &vault.ValidationError{Errors: []string{"invalid request body"}})
		return
	}
	res, err := s.coordinator.Publish(r.Context(), publish.PublishRequest{
		NoteID:      noteID,
		Collections: req.Collections,
		Label:       vault.Label(req.Label),
		ClientToken: req.ClientToken,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"version_id":                res.VersionID,
		"note_id":                   res.NoteID,
		"status":                    res.Status,
		"estimated_searchable_in_ms": res.EstimatedSearchableIn.Milliseconds(),
	})
}

type rollbackRequest struct {
	TargetVersionID string `json:"target_version_id"`
	ClientToken     string `json:"client_token"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	noteID := r.PathValue("noteID")
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, &vault.ValidationError{Errors: []string{"invalid request body"}})
		return
	}
	res, err := s.coordinator.Rollback(r.Context(), publish.RollbackRequest{
		NoteID:          noteID,
		TargetVersionID: req.TargetVersionID,
		ClientToken:     req.ClientToken,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"new_version_id":    res.NewVersionID,
		"note_id":           res.NoteID,
		"target_version_id": res.TargetVersionID,
		"status":            res.Status,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	resp, err := s.engine.Search(r.Context(), query.Request{
		Text:            q.Get("q"),
		CollectionScope: q["collections"],
		Page:            page,
		PageSize:        pageSize,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results":          resp.Items,
		"answer":           resp.Answer,
		"query_id":         resp.QueryID,
		"page":             resp.Page,
		"page_size":        resp.PageSize,
		"total_count":      resp.TotalCount,
		"has_more":         resp.HasMore,
		"no_answer_reason": resp.NoAnswerReason,
	})
}

type resolveAnchorRequest struct {
	VersionID string       `json:"version_id"`
	Anchor    vault.Anchor `json:"anchor"`
}

func (s *Server) handleResolveAnchor(w http.ResponseWriter, r *http.Request) {
	var req resolveAnchorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, &vault.ValidationError{Errors: []string{"invalid request body"}})
		return
	}
	v, err := s.store.GetVersion(r.Context(), req.VersionID)
	if err != nil {
		respondError(w, err)
		return
	}
	resolved, content, resolveErr := resolveAnchorCore(req.Anchor, v.BodyMD)
	if resolveErr != nil {
		respondError(w, resolveErr)
		return
	}
	body := map[string]any{"resolved": resolved}
	if resolved {
		body["content"] = content
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	noteID := r.PathValue("noteID")
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	versions, total, err := s.store.ListVersions(r.Context(), noteID, page, pageSize)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"versions":    versions,
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
	})
}
