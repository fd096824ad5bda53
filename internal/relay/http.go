package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaydesk/internal/transport"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// commandUX covers the command-layer extras the webhook needs beyond the
// relay engine's transport surface: inline menus and callback answers.
type commandUX interface {
	Notify(ctx context.Context, dest transport.Destination, text string) error
	SendMenu(ctx context.Context, chatID int64, text string, options []string) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

type HTTPServer struct {
	service *Service
	ux      commandUX
}

func NewHTTPServer(service *Service, ux commandUX) *HTTPServer {
	return &HTTPServer{service: service, ux: ux}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/updates", s.handleUpdates)
	mux.HandleFunc("/api/greeting", s.handleGreeting)
	return mux
}

// Update is one inbound webhook event from the chat platform. Exactly one
// of the payload fields is set.
type Update struct {
	UpdateID      int64            `json:"update_id"`
	Message       *IncomingMessage `json:"message,omitempty"`
	EditedMessage *IncomingMessage `json:"edited_message,omitempty"`
	CallbackQuery *CallbackQuery   `json:"callback_query,omitempty"`
}

type IncomingMessage struct {
	MessageID int64            `json:"message_id"`
	From      *Sender          `json:"from,omitempty"`
	Chat      ChatRef          `json:"chat"`
	ThreadID  int64            `json:"message_thread_id,omitempty"`
	Text      string           `json:"text,omitempty"`
	ReplyTo   *IncomingMessage `json:"reply_to_message,omitempty"`
}

type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type ChatRef struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type CallbackQuery struct {
	ID   string  `json:"id"`
	From *Sender `json:"from,omitempty"`
	Data string  `json:"data,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleUpdates receives platform webhook events. Failures are reported to
// the developer chat and logged, never surfaced to the platform: a non-200
// would only make it redeliver an update we already cannot process.
func (s *HTTPServer) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	if err := s.dispatch(r.Context(), update); err != nil {
		s.reportFailure(r.Context(), update.UpdateID, err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleGreeting(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		text, err := s.service.Greeting(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "GREETING_READ_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"text": text})
	case http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required")
			return
		}
		if err := s.service.SetGreeting(r.Context(), body.Text); err != nil {
			writeError(w, http.StatusInternalServerError, "GREETING_WRITE_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	}
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get("x-relay-token"))
	return token != "" && token == s.service.cfg.WebhookToken
}

func (s *HTTPServer) dispatch(ctx context.Context, update Update) error {
	switch {
	case update.Message != nil:
		return s.dispatchMessage(ctx, *update.Message)
	case update.EditedMessage != nil:
		return s.dispatchEdited(ctx, *update.EditedMessage)
	case update.CallbackQuery != nil:
		return s.dispatchCallback(ctx, *update.CallbackQuery)
	}
	return nil
}

func (s *HTTPServer) dispatchMessage(ctx context.Context, msg IncomingMessage) error {
	if msg.Chat.ID == s.service.cfg.WorkspaceChatID {
		if msg.ThreadID == 0 {
			// Workspace chatter outside any user thread is not relayed.
			return nil
		}
		return s.service.RelayFromStaff(ctx, msg.ThreadID, toMessage(msg))
	}
	if msg.Chat.Type != "private" || msg.From == nil {
		return nil
	}
	if strings.HasPrefix(msg.Text, "/") {
		return s.handleCommand(ctx, msg)
	}
	return s.service.RelayFromUser(ctx, senderOf(msg), toMessage(msg))
}

func (s *HTTPServer) dispatchEdited(ctx context.Context, msg IncomingMessage) error {
	if msg.Chat.ID == s.service.cfg.WorkspaceChatID {
		return s.service.StaffEditNotice(ctx, msg.ThreadID)
	}
	if msg.Chat.Type != "private" || msg.From == nil {
		return nil
	}
	return s.service.RelayEditedFromUser(ctx, senderOf(msg), toMessage(msg))
}

func (s *HTTPServer) dispatchCallback(ctx context.Context, callback CallbackQuery) error {
	// Always acknowledge, even for marker buttons we ignore.
	defer func() {
		if err := s.ux.AnswerCallback(ctx, callback.ID); err != nil {
			log.Printf("relay: answer callback %s: %v", callback.ID, err)
		}
	}()

	mode, err := strconv.Atoi(callback.Data)
	if err != nil || mode < 0 || callback.From == nil {
		return nil
	}
	return s.service.SetPromptMode(ctx, User{ID: callback.From.ID, DisplayName: displayName(*callback.From)}, mode)
}

func (s *HTTPServer) handleCommand(ctx context.Context, msg IncomingMessage) error {
	command := msg.Text
	if idx := strings.IndexAny(command, " \n"); idx > 0 {
		command = command[:idx]
	}
	// Commands may carry the bot's mention suffix.
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}

	userDest := transport.Destination{ChatID: msg.Chat.ID}
	switch command {
	case "/start":
		text, err := s.service.Greeting(ctx)
		if err != nil {
			return err
		}
		return s.ux.Notify(ctx, userDest, text)
	case "/help":
		text, err := s.service.Greeting(ctx)
		if err != nil {
			return err
		}
		help := text + "\n\nYou can also pick the bot's working mode with /set_prompt"
		return s.ux.Notify(ctx, userDest, help)
	case "/set_prompt":
		return s.ux.SendMenu(ctx, msg.Chat.ID, "Choose the bot's working mode", s.service.cfg.PromptModes)
	case "/set_text":
		return s.handleSetGreeting(ctx, msg)
	default:
		return nil
	}
}

func (s *HTTPServer) handleSetGreeting(ctx context.Context, msg IncomingMessage) error {
	if msg.From == nil || !s.isAdmin(msg.From.Username) {
		return nil
	}
	userDest := transport.Destination{ChatID: msg.Chat.ID}
	if msg.ReplyTo == nil || strings.TrimSpace(msg.ReplyTo.Text) == "" {
		return s.ux.Notify(ctx, userDest, "To update the greeting, reply to the new greeting text with /set_text")
	}
	if err := s.service.SetGreeting(ctx, msg.ReplyTo.Text); err != nil {
		return err
	}
	if err := s.ux.Notify(ctx, userDest, "The greeting was updated, it now reads:"); err != nil {
		return err
	}
	text, err := s.service.Greeting(ctx)
	if err != nil {
		return err
	}
	return s.ux.Notify(ctx, userDest, text)
}

func (s *HTTPServer) isAdmin(username string) bool {
	for _, admin := range s.service.cfg.AdminList {
		if admin == username {
			return true
		}
	}
	return false
}

// reportFailure is the process-level error boundary: log locally and tell
// the developer chat, best effort.
func (s *HTTPServer) reportFailure(ctx context.Context, updateID int64, err error) {
	log.Printf("relay: update %d failed: %v", updateID, err)
	dest := transport.Destination{ChatID: s.service.cfg.DeveloperChatID}
	notice := fmt.Sprintf("Relay failure handling update %d: %v", updateID, err)
	if notifyErr := s.ux.Notify(ctx, dest, notice); notifyErr != nil {
		log.Printf("relay: developer notice failed: %v", notifyErr)
	}
}

func senderOf(msg IncomingMessage) User {
	return User{ID: msg.From.ID, DisplayName: displayName(*msg.From)}
}

func displayName(sender Sender) string {
	if sender.Username != "" {
		return "@" + sender.Username
	}
	return strings.TrimSpace(sender.FirstName + " " + sender.LastName)
}

func toMessage(msg IncomingMessage) Message {
	out := Message{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
	if msg.ReplyTo != nil {
		out.ReplyToID = msg.ReplyTo.MessageID
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
