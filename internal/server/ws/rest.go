package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
)

// The conversation admin surface. Authorization is re-checked by the Rooms
// service at call time on every request; nothing here trusts a prior check.

type conversationView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toConversationView(c model.Conversation) conversationView {
	return conversationView{
		ID:        c.ID.String(),
		Type:      string(c.Type),
		Name:      c.Name,
		CreatedAt: c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleOpenDirect(w http.ResponseWriter, r *http.Request) {
	principalID, _ := PrincipalIDFromCtx(r.Context())
	var body struct {
		PeerID string `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.ErrValidationFailed)
		return
	}
	peer, err := parseID(body.PeerID, "peer_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	conv, err := s.rooms.OpenDirect(r.Context(), principalID, peer)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationView(conv))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	principalID, _ := PrincipalIDFromCtx(r.Context())
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.ErrValidationFailed)
		return
	}
	conv, err := s.rooms.CreateGroup(r.Context(), principalID, body.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationView(conv))
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	principalID, _ := PrincipalIDFromCtx(r.Context())
	convID, err := parseID(mux.Vars(r)["id"], "conversation_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.ErrValidationFailed)
		return
	}
	if err := s.rooms.Rename(r.Context(), principalID, convID, body.Name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	principalID, _ := PrincipalIDFromCtx(r.Context())
	convID, err := parseID(mux.Vars(r)["id"], "conversation_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.rooms.Delete(r.Context(), principalID, convID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	principalID, _ := PrincipalIDFromCtx(r.Context())
	convID, err := parseID(mux.Vars(r)["id"], "conversation_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		PrincipalID string `json:"principal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.ErrValidationFailed)
		return
	}
	member, err := parseID(body.PrincipalID, "principal_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.rooms.AddParticipant(r.Context(), principalID, convID, member); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	principalID, _ := PrincipalIDFromCtx(r.Context())
	vars := mux.Vars(r)
	convID, err := parseID(vars["id"], "conversation_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	member, err := parseID(vars["principal"], "principal_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.rooms.RemoveParticipant(r.Context(), principalID, convID, member); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrAuthenticationRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    errs.Code(err),
		"message": err.Error(),
	})
}
