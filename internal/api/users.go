package api

import (
	"errors"
	"log/slog"
	"net/http"

	"discussd/internal/db"
)

type UserHandler struct {
	userRepo *db.UserRepository
}

func NewUserHandler(userRepo *db.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "User not found in context")
		return
	}

	user, err := h.userRepo.FindByID(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "component", "api", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
