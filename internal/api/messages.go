package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"perepiska/internal/content"
	"perepiska/internal/gateway"
	"perepiska/internal/models"

	"github.com/google/uuid"
)

// MessageView is a message as the client renders it: the stored record
// plus display HTML derived from the markdown content.
type MessageView struct {
	models.Message
	HTML string `json:"html,omitempty"`
}

func toView(m models.Message) MessageView {
	view := MessageView{Message: m}
	if m.Content != "" {
		view.HTML = content.Render(m.Content)
	}
	return view
}

type sendMessageRequest struct {
	Content string        `json:"content" validate:"omitempty,max=4000"`
	Media   *mediaPayload `json:"media" validate:"omitempty"`
}

type mediaPayload struct {
	Kind string `json:"kind" validate:"required,oneof=image video audio"`
	URL  string `json:"url" validate:"required,url"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", models.ErrValidation, err))
		return
	}

	var media *models.Media
	if req.Media != nil {
		media = &models.Media{Kind: models.MediaKind(req.Media.Kind), URL: req.Media.URL}
	}

	message, err := a.gateway.Send(r.Context(), gateway.SendRequest{
		ChatID:   r.PathValue("chatID"),
		SenderID: userID,
		Content:  req.Content,
		Media:    media,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toView(message))
}

type historyResponse struct {
	ChatID   string        `json:"chatId"`
	Messages []MessageView `json:"messages"`
	More     bool          `json:"more"`
}

func (a *API) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := a.gateway.History(r.Context(), r.PathValue("chatID"), userID, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]MessageView, 0, len(page.Messages))
	for _, m := range page.Messages {
		views = append(views, toView(m))
	}
	writeJSON(w, http.StatusOK, historyResponse{
		ChatID:   page.ChatID,
		Messages: views,
		More:     page.More,
	})
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func (a *API) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", models.ErrValidation, err))
		return
	}

	message, err := a.gateway.Edit(r.Context(), r.PathValue("chatID"), r.PathValue("messageID"), userID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(message))
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	forAll, _ := strconv.ParseBool(r.URL.Query().Get("forAll"))
	if err := a.gateway.Delete(r.Context(), r.PathValue("chatID"), r.PathValue("messageID"), userID, forAll); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := a.gateway.MarkRead(r.Context(), r.PathValue("chatID"), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createChatRequest struct {
	Kind         string   `json:"kind" validate:"required,oneof=direct group"`
	Participants []string `json:"participants" validate:"required,min=2,dive,required"`
}

// CreateChatHandler creates a chat with a fixed participant set. The
// requesting user must be one of the participants.
func (a *API) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", models.ErrValidation, err))
		return
	}
	if req.Kind == string(models.ChatKindDirect) && len(req.Participants) != 2 {
		writeError(w, fmt.Errorf("%w: a direct chat has exactly two participants", models.ErrValidation))
		return
	}

	chat := models.Chat{
		ID:           uuid.NewString(),
		Kind:         models.ChatKind(req.Kind),
		Participants: req.Participants,
		Unread:       make(map[string]int),
	}
	if !chat.HasParticipant(userID) {
		writeError(w, fmt.Errorf("%w: creator must participate in the chat", models.ErrForbidden))
		return
	}
	if err := a.chats.CreateChat(chat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}
