package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/security"
	"github.com/brianly1003/chatcast/internal/server/http/middleware"
)

// handleCreateMessage handles POST /api/messages
//
//	@Summary		Post a chat message
//	@Description	Stores the message for the authenticated user and notifies subscribers of the message channel. A 202 means the message was stored but the live notification was not queued.
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		CreateMessageRequest	true	"Message"
//	@Success		201		{object}	MessageResponse
//	@Success		202		{object}	MessageResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse	"Principal is not a user id"
//	@Router			/api/messages [post]
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())
	userID, err := strconv.ParseInt(principal, 10, 64)
	if err != nil || userID <= 0 {
		writeErrorMessage(w, http.StatusForbidden, ErrCodeForbidden, "principal cannot post messages")
		return
	}

	var req CreateMessageRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := s.store.Create(r.Context(), userID, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := MessageResponse{Message: msg.Projection()}

	// The message is committed; a failed notification only delays delivery.
	ev, err := s.core.OnMessageStored(r.Context(), resp.Message)
	if err != nil {
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("message stored without live notification")
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	resp.Live = true
	resp.Sequence = ev.Sequence()
	writeJSON(w, http.StatusCreated, resp)
}

// handleListMessages handles GET /api/messages
//
//	@Summary		List chat messages
//	@Description	Returns stored messages newest first. Pass next_before from the previous page as before to continue.
//	@Tags			messages
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int	false	"Page size"
//	@Param			before	query		int	false	"Only messages with a smaller id"
//	@Success		200		{object}	MessagesResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Router			/api/messages [get]
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > s.opts.MaxListLimit {
		limit = s.opts.MaxListLimit
	}
	before, err := parseIntParam(r, "before", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msgs, err := s.store.List(r.Context(), limit, int64(before))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := MessagesResponse{Messages: make([]events.ChatMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, m.Projection())
	}
	if len(msgs) > 0 {
		resp.NextBefore = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBroadcast handles POST /api/broadcast
//
//	@Summary		Broadcast an event
//	@Description	Publishes an already resolved payload to a channel. Operators only.
//	@Tags			broadcast
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		BroadcastRequest	true	"Event"
//	@Success		202		{object}	BroadcastResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse	"Delivery queue is full"
//	@Router			/api/broadcast [post]
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r) {
		return
	}

	var req BroadcastRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ev, err := s.core.Publish(r.Context(), req.Channel, events.EventType(req.Event), req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, BroadcastResponse{
		Channel:  ev.Channel(),
		Event:    string(ev.Type()),
		Sequence: ev.Sequence(),
	})
}

// handleAddMember handles POST /api/conversations/{conversation}/members
//
//	@Summary		Add a conversation member
//	@Description	Grants a principal access to private-conversation.{conversation}. Operators only.
//	@Tags			conversations
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			conversation	path		string			true	"Conversation id"
//	@Param			request			body		MemberRequest	true	"Member"
//	@Success		201				{object}	MembersResponse
//	@Failure		400				{object}	ErrorResponse
//	@Failure		403				{object}	ErrorResponse
//	@Router			/api/conversations/{conversation}/members [post]
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r) {
		return
	}
	conversation, err := conversationParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req MemberRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.store.AddMember(r.Context(), conversation, req.Principal); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeMembers(w, r, http.StatusCreated, conversation)
}

// handleListMembers handles GET /api/conversations/{conversation}/members
//
//	@Summary		List conversation members
//	@Tags			conversations
//	@Produce		json
//	@Security		BearerAuth
//	@Param			conversation	path		string	true	"Conversation id"
//	@Success		200				{object}	MembersResponse
//	@Failure		403				{object}	ErrorResponse
//	@Router			/api/conversations/{conversation}/members [get]
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r) {
		return
	}
	conversation, err := conversationParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeMembers(w, r, http.StatusOK, conversation)
}

// handleRemoveMember handles DELETE /api/conversations/{conversation}/members/{principal}
//
//	@Summary		Remove a conversation member
//	@Description	Revokes future subscriptions. Connections already subscribed keep receiving until they unsubscribe or disconnect.
//	@Tags			conversations
//	@Security		BearerAuth
//	@Param			conversation	path	string	true	"Conversation id"
//	@Param			principal		path	string	true	"Member principal"
//	@Success		204
//	@Failure		403	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/conversations/{conversation}/members/{principal} [delete]
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r) {
		return
	}
	conversation, err := conversationParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := s.store.RemoveMember(r.Context(), conversation, mux.Vars(r)["principal"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeMembers(w http.ResponseWriter, r *http.Request, status int, conversation string) {
	members, err := s.store.Members(r.Context(), conversation)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(w, status, MembersResponse{Conversation: conversation, Members: members})
}

// requireOperator writes 403 and returns false unless the caller is an operator.
func (s *Server) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	principal, _ := middleware.PrincipalFrom(r.Context())
	if !s.isOperator(principal) {
		writeErrorMessage(w, http.StatusForbidden, ErrCodeForbidden, "operator access required")
		return false
	}
	return true
}

// conversationParam checks the path id forms a valid channel target.
func conversationParam(r *http.Request) (string, error) {
	conversation := mux.Vars(r)["conversation"]
	channel := security.PrivatePrefix + security.ScopeConversation + "." + conversation
	if _, err := security.ParseChannelName(channel); err != nil {
		return "", domain.NewValidationError("conversation", "invalid conversation id")
	}
	return conversation, nil
}

func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}
