package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/postaworks/posta/internal/engine"
	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/poller"
	"github.com/postaworks/posta/internal/remote"
	"github.com/postaworks/posta/internal/scheduler"
)

// StatusResponse reports the daemon's sync state.
type StatusResponse struct {
	Pollers   []poller.Status           `json:"pollers"`
	Refreshes []scheduler.AccountStatus `json:"refreshes,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Pollers: s.sync.PollerStatus()}
	if s.refresher != nil {
		resp.Refreshes = s.refresher.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account")

	var (
		cards []model.Card
		err   error
	)
	if accountID == "" {
		cards, err = s.cards.ListAllCards()
	} else {
		cards, err = s.cards.ListCards(accountID)
	}
	if err != nil {
		s.logger.Error("failed to list cards", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve cards")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cards": cards,
	})
}

// CreateCardRequest is the body for POST /cards.
type CreateCardRequest struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Query     string `json:"query"`
	Position  int    `json:"position"`
	Color     string `json:"color,omitempty"`
	GroupBy   string `json:"group_by,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}
	if req.AccountID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "account_id and name are required")
		return
	}

	card := model.NewCard(req.AccountID, req.Name, req.Query, req.Position)
	card.Color = req.Color
	if req.GroupBy != "" {
		card.GroupBy = model.GroupBy(req.GroupBy)
	}
	if req.Kind != "" {
		card.Kind = model.CardKind(req.Kind)
	}

	if err := s.cards.InsertCard(card); err != nil {
		s.logger.Error("failed to create card", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create card")
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, ok := s.lookupCard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupCard(w, r)
	if !ok {
		return
	}

	var card model.Card
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}
	card.ID = existing.ID
	if card.AccountID == "" {
		card.AccountID = existing.AccountID
	}

	if err := s.cards.UpdateCard(card); err != nil {
		s.logger.Error("failed to update card", "id", card.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update card")
		return
	}

	// A new query invalidates the cached snapshot; the next load refetches.
	if card.Query != existing.Query {
		if err := s.sync.ClearCache(card.AccountID, card.ID); err != nil {
			s.logger.Warn("failed to clear card cache", "id", card.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	card, ok := s.lookupCard(w, r)
	if !ok {
		return
	}
	if err := s.cards.DeleteCard(card.ID); err != nil {
		s.logger.Error("failed to delete card", "id", card.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete card")
		return
	}
	if err := s.sync.ClearCache(card.AccountID, card.ID); err != nil {
		s.logger.Warn("failed to clear card cache", "id", card.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorderCards(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Orders []CardPosition `json:"orders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}
	if len(req.Orders) == 0 {
		writeError(w, http.StatusBadRequest, "missing_fields", "orders is required")
		return
	}

	if err := s.cards.ReorderCards(req.Orders); err != nil {
		s.logger.Error("failed to reorder cards", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to reorder cards")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCardSnapshot(w http.ResponseWriter, r *http.Request) {
	card, ok := s.lookupCard(w, r)
	if !ok {
		return
	}

	entry, err := s.sync.LoadCard(r.Context(), *card)
	if err != nil {
		if errors.Is(err, engine.ErrLoadInFlight) {
			writeError(w, http.StatusConflict, "load_in_flight", "A load for this card is already running")
			return
		}
		s.writeRemoteError(w, "load card failed", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	card, ok := s.lookupCard(w, r)
	if !ok {
		return
	}

	hasMore, err := s.sync.LoadMore(r.Context(), *card)
	if err != nil {
		if errors.Is(err, engine.ErrLoadInFlight) {
			writeError(w, http.StatusConflict, "load_in_flight", "A load for this card is already running")
			return
		}
		s.writeRemoteError(w, "load more failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_more": hasMore})
}

// PrefResponse is one preference entry. Value is "" when the key is unset;
// the store does not distinguish unset from empty.
type PrefResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleGetPref(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.prefs.GetPref(key)
	if err != nil {
		s.logger.Error("failed to get pref", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve preference")
		return
	}
	writeJSON(w, http.StatusOK, PrefResponse{Key: key, Value: value})
}

func (s *Server) handleSetPref(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}
	if err := s.prefs.SetPref(key, req.Value); err != nil {
		s.logger.Error("failed to set pref", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to store preference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePref(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.prefs.DeletePref(key); err != nil {
		s.logger.Error("failed to delete pref", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete preference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if err := s.sync.TriggerSync(account); err != nil {
		writeError(w, http.StatusNotFound, "unknown_account", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if err := s.sync.Focus(account); err != nil {
		writeError(w, http.StatusNotFound, "unknown_account", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh_unavailable", "No full-refresh scheduler configured")
		return
	}
	account := chi.URLParam(r, "account")
	if err := s.refresher.TriggerRefresh(account); err != nil {
		s.logger.Error("failed to trigger refresh", "account", account, "error", err)
		writeError(w, http.StatusConflict, "refresh_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// ActionRequest is the body for POST /accounts/{account}/actions.
type ActionRequest struct {
	CardID          string   `json:"card_id"`
	Action          string   `json:"action"`
	ConversationIDs []string `json:"conversation_ids"`
	Confirmed       bool     `json:"confirmed"`
}

func (s *Server) handleApplyAction(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body")
		return
	}
	kind := model.ActionKind(req.Action)
	if _, err := model.ResolveAction(kind); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error())
		return
	}
	if len(req.ConversationIDs) == 0 {
		writeError(w, http.StatusBadRequest, "missing_fields", "conversation_ids is required")
		return
	}

	err := s.sync.Apply(r.Context(), account, engine.ActionRequest{
		CardID:          req.CardID,
		Action:          kind,
		ConversationIDs: req.ConversationIDs,
		Confirmed:       req.Confirmed,
	})
	switch {
	case errors.Is(err, engine.ErrNeedsConfirmation):
		writeError(w, http.StatusConflict, "confirmation_required", "Bulk destructive action requires confirmed=true")
	case err != nil:
		s.writeRemoteError(w, "apply action failed", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	err := s.sync.Undo(r.Context(), account)
	switch {
	case errors.Is(err, engine.ErrUndoExpired):
		writeError(w, http.StatusGone, "undo_expired", "Nothing to undo")
	case err != nil:
		s.writeRemoteError(w, "undo failed", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "undone"})
	}
}

// lookupCard resolves the {id} URL parameter. Writes the error response and
// returns ok=false when the card is missing.
func (s *Server) lookupCard(w http.ResponseWriter, r *http.Request) (*model.Card, bool) {
	id := chi.URLParam(r, "id")
	card, err := s.cards.GetCard(id)
	if err != nil {
		s.logger.Error("failed to get card", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve card")
		return nil, false
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "not_found", "Card not found")
		return nil, false
	}
	return card, true
}

// writeRemoteError maps remote error types onto HTTP statuses.
func (s *Server) writeRemoteError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)

	var ae *remote.AuthError
	if errors.As(err, &ae) {
		writeError(w, http.StatusUnauthorized, "auth_error", "Remote session is no longer valid")
		return
	}
	var nf *remote.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, "not_found", "Remote resource not found")
		return
	}
	writeError(w, http.StatusBadGateway, "remote_error", "Remote call failed")
}
