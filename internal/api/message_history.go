package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"discussd/internal/constants"
	"discussd/internal/db"
)

const defaultMessageHistoryLimit = 50

// MessageHandler serves the REST view of a problem's discussion history.
// The web UI uses it for the initial render before the socket connects;
// the authoritative live path is the ROOM_JOIN snapshot.
type MessageHandler struct {
	messageRepo *db.MessageRepository
}

func NewMessageHandler(messageRepo *db.MessageRepository) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo}
}

// GET /api/v1/problems/{problemID}/messages
func (h *MessageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	problemID := chi.URLParam(r, "problemID")
	if strings.TrimSpace(problemID) == "" {
		badRequest(w, "Path parameter 'problemID' is required")
		return
	}

	limit, beforeID, validationMessage, ok := parseHistoryQuery(r)
	if !ok {
		badRequest(w, validationMessage)
		return
	}

	messages, err := h.messageRepo.ListHistoryBefore(r.Context(), problemID, beforeID, limit)
	if err != nil {
		internalError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func parseHistoryQuery(r *http.Request) (int, string, string, bool) {
	limitStr := strings.TrimSpace(r.URL.Query().Get("limit"))

	limit := defaultMessageHistoryLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, "", "Query parameter 'limit' must be an integer", false
		}
		if parsedLimit <= 0 || parsedLimit > constants.MessageHistoryMaxLimit {
			return 0, "", fmt.Sprintf("Query parameter 'limit' must be between 1 and %d", constants.MessageHistoryMaxLimit), false
		}
		limit = parsedLimit
	}

	beforeID := strings.TrimSpace(r.URL.Query().Get("before"))
	if beforeID != "" && !isValidMessageID(beforeID) {
		return 0, "", "Query parameter 'before' must be a valid message ID", false
	}

	return limit, beforeID, "", true
}

// isValidMessageID checks the msg_<hex> shape produced by the store.
func isValidMessageID(id string) bool {
	const prefix = "msg_"
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	hexPart := id[len(prefix):]
	if len(hexPart) != constants.IDRandomBytes*2 {
		return false
	}
	for _, c := range hexPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
