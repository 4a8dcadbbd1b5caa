// Package gateway is the HTTP/JSON and WebSocket surface of the draft
// service. Chat integrations call it and re-render the board from the
// pushed events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/blockdraft/blockdraft/internal/draft"
	"github.com/blockdraft/blockdraft/internal/draft/board"
	"github.com/blockdraft/blockdraft/internal/draft/engine"
	"github.com/blockdraft/blockdraft/internal/draft/repository"
	"github.com/blockdraft/blockdraft/internal/draft/state"
	"github.com/blockdraft/blockdraft/internal/identity"
	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DraftApp is the application surface the gateway exposes. *draft.App
// implements it.
type DraftApp interface {
	CreateDraft(ctx context.Context, req draft.CreateDraftRequest) (*models.DraftSnapshot, error)
	ApplyPick(ctx context.Context, draftID uuid.UUID, playerID, category, item string) (*models.DraftSnapshot, *models.Pick, error)
	Reset(ctx context.Context, draftID uuid.UUID, requestedBy string) (*models.DraftSnapshot, error)
	Snapshot(ctx context.Context, draftID uuid.UUID) (*models.DraftSnapshot, error)
	ActiveDraft(ctx context.Context, channelID string) (*models.DraftSnapshot, error)
	ListDrafts(ctx context.Context, channelID string, limit int) ([]models.DraftSummary, error)
	RecentDraftsForPlayer(ctx context.Context, playerID string, limit int) ([]models.DraftSummary, error)
	RecentPicks(ctx context.Context, draftID uuid.UUID, limit int) ([]models.Pick, error)
	PlayerSummary(ctx context.Context, draftID uuid.UUID, playerID string) (*draft.PlayerSummary, error)
}

// IdentityApp is the handle-registry surface. *identity.App implements
// it.
type IdentityApp interface {
	SetHandle(ctx context.Context, playerID, handle string) (identity.Handle, error)
	Handle(ctx context.Context, playerID string) (identity.Handle, error)
	RemoveHandle(ctx context.Context, playerID string) (bool, error)
}

// Waker nudges the deadline scheduler after a mutation sets a new
// deadline.
type Waker interface {
	Wake()
}

// Service wires the draft app to HTTP routes and WebSocket broadcasts.
type Service struct {
	app      DraftApp
	identity IdentityApp
	conns    *ConnectionManager
	waker    Waker
}

// NewService builds the gateway. waker may be nil.
func NewService(app DraftApp, ident IdentityApp, conns *ConnectionManager, waker Waker) *Service {
	return &Service{app: app, identity: ident, conns: conns, waker: waker}
}

// Routes registers every endpoint on the mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/drafts", s.handleCreateDraft)
	mux.HandleFunc("GET /api/drafts", s.handleListDrafts)
	mux.HandleFunc("GET /api/drafts/{id}", s.handleGetDraft)
	mux.HandleFunc("GET /api/drafts/{id}/board", s.handleGetBoard)
	mux.HandleFunc("POST /api/drafts/{id}/picks", s.handleMakePick)
	mux.HandleFunc("GET /api/drafts/{id}/picks", s.handleRecentPicks)
	mux.HandleFunc("POST /api/drafts/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /api/drafts/{id}/players/{player_id}", s.handlePlayerSummary)
	mux.HandleFunc("GET /api/players/{id}/drafts", s.handlePlayerDrafts)
	mux.HandleFunc("PUT /api/players/{id}/handle", s.handleSetHandle)
	mux.HandleFunc("GET /api/players/{id}/handle", s.handleGetHandle)
	mux.HandleFunc("DELETE /api/players/{id}/handle", s.handleRemoveHandle)
	mux.HandleFunc("GET /ws/draft", s.handleWebSocket)
}

// NotifyDraft pushes a refreshed board to the draft's watchers. Also the
// scheduler's timeout callback.
func (s *Service) NotifyDraft(snap *models.DraftSnapshot) {
	s.broadcast(EventBoardUpdated, snap, nil)
}

func (s *Service) broadcast(eventType EventType, snap *models.DraftSnapshot, pick *models.Pick) {
	s.conns.Broadcast(&DraftEvent{
		Type:      eventType,
		DraftID:   snap.ID,
		Board:     board.Render(snap),
		Snapshot:  snap,
		Pick:      pick,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

type createDraftRequest struct {
	ChannelID        string          `json:"channel_id"`
	AdminID          string          `json:"admin_id"`
	Players          []models.Player `json:"players"`
	PicksPerCategory int             `json:"picks_per_category"`
}

func (s *Service) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.app.CreateDraft(r.Context(), draft.CreateDraftRequest{
		ChannelID:        req.ChannelID,
		AdminID:          req.AdminID,
		Players:          req.Players,
		PicksPerCategory: req.PicksPerCategory,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.wake()
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Service) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		writeBadRequest(w, "channel_id is required")
		return
	}

	if r.URL.Query().Get("active") == "true" {
		snap, err := s.app.ActiveDraft(r.Context(), channelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	summaries, err := s.app.ListDrafts(r.Context(), channelID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": summaries})
}

func (s *Service) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	snap, err := s.app.Snapshot(r.Context(), draftID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	draftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	snap, err := s.app.Snapshot(r.Context(), draftID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"board": board.Render(snap)})
}

type makePickRequest struct {
	PlayerID string `json:"player_id"`
	Category string `json:"category"`
	Item     string `json:"item"`
}

func (s *Service) handleMakePick(w http.ResponseWriter, r *http.Request) {
	draftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req makePickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, pick, err := s.app.ApplyPick(r.Context(), draftID, req.PlayerID, req.Category, req.Item)
	if err != nil {
		writeError(w, err)
		return
	}

	eventType := EventPickMade
	if snap.Status == models.DraftStatusCompleted {
		eventType = EventDraftCompleted
	}
	s.broadcast(eventType, snap, pick)
	s.wake()
	writeJSON(w, http.StatusOK, map[string]any{"pick": pick, "snapshot": snap})
}

func (s *Service) handleRecentPicks(w http.ResponseWriter, r *http.Request) {
	draftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	picks, err := s.app.RecentPicks(r.Context(), draftID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"picks": picks})
}

type resetRequest struct {
	RequestedBy string `json:"requested_by"`
}

func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	draftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.app.Reset(r.Context(), draftID, req.RequestedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(EventDraftReset, snap, nil)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handlePlayerSummary(w http.ResponseWriter, r *http.Request) {
	draftID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	summary, err := s.app.PlayerSummary(r.Context(), draftID, r.PathValue("player_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handlePlayerDrafts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	summaries, err := s.app.RecentDraftsForPlayer(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": summaries})
}

type setHandleRequest struct {
	Handle string `json:"handle"`
}

func (s *Service) handleSetHandle(w http.ResponseWriter, r *http.Request) {
	var req setHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	h, err := s.identity.SetHandle(r.Context(), r.PathValue("id"), req.Handle)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Service) handleGetHandle(w http.ResponseWriter, r *http.Request) {
	h, err := s.identity.Handle(r.Context(), r.PathValue("id"))
	if errors.Is(err, identity.ErrHandleNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]errorBody{
			"error": {Kind: "not_found", Detail: err.Error()},
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Service) handleRemoveHandle(w http.ResponseWriter, r *http.Request) {
	removed, err := s.identity.RemoveHandle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	draftID, err := uuid.Parse(r.URL.Query().Get("draft_id"))
	if err != nil {
		writeBadRequest(w, "draft_id is required")
		return
	}
	if _, err := s.app.Snapshot(r.Context(), draftID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conns.UpgradeConnection(w, r, draftID); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(key))
	if err != nil {
		writeBadRequest(w, "invalid draft id")
		return uuid.Nil, false
	}
	return id, true
}

type errorBody struct {
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
	Category string `json:"category,omitempty"`
	Item     string `json:"item,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]errorBody{
		"error": {Kind: "bad_request", Detail: detail},
	})
}

func writeError(w http.ResponseWriter, err error) {
	if ve, ok := engine.AsValidation(err); ok {
		writeJSON(w, validationStatus(ve.Kind), map[string]errorBody{"error": {
			Kind:     string(ve.Kind),
			Detail:   ve.Detail,
			Category: ve.Category,
			Item:     ve.Item,
			PlayerID: ve.PlayerID,
		}})
		return
	}
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, draft.ErrPlayerNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]errorBody{
			"error": {Kind: "not_found", Detail: err.Error()},
		})
		return
	}

	var invErr *state.InvariantError
	if errors.As(err, &invErr) {
		log.Error().Err(err).Msg("draft invariant violation")
	} else {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, http.StatusInternalServerError, map[string]errorBody{
		"error": {Kind: "internal", Detail: "internal error"},
	})
}

func validationStatus(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidPlayerCount:
		return http.StatusBadRequest
	case engine.KindNotAdmin:
		return http.StatusForbidden
	default:
		// Turn, availability, limit and lifecycle rejections are
		// conflicts with the current draft state.
		return http.StatusConflict
	}
}
