package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/VladKvetkin/minimart/internal/apperr"
	"github.com/VladKvetkin/minimart/internal/entities"
	"github.com/VladKvetkin/minimart/internal/middleware"
	"github.com/VladKvetkin/minimart/internal/models"
	"github.com/VladKvetkin/minimart/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const inviteCodeLength = 8

// Login signs a mini-program user in by payer identity, registering it on
// first sight. An invite code is only honoured at registration.
func (h *Handler) Login(res http.ResponseWriter, req *http.Request) {
	var requestModel models.LoginRequest
	if err := h.decodeRequest(res, req, &requestModel); err != nil {
		h.writeError(res, err)
		return
	}

	user, err := h.getOrCreateUser(req.Context(), requestModel)
	if err != nil {
		h.writeError(res, err)
		return
	}

	h.generateTokenAndSetCookie(res, user)
}

func (h *Handler) getOrCreateUser(ctx context.Context, requestModel models.LoginRequest) (entities.User, error) {
	user, err := h.users.GetUserByPayerIdentity(ctx, requestModel.OpenID)
	if err == nil {
		return user, nil
	}

	if !errors.Is(err, storage.ErrNoRows) {
		return entities.User{}, err
	}

	user = entities.User{
		ID:            uuid.NewString(),
		PayerIdentity: requestModel.OpenID,
		InviteCode:    newInviteCode(),
		CreatedAt:     time.Now(),
	}

	if requestModel.InviteCode != "" {
		inviter, err := h.users.GetUserByInviteCode(ctx, strings.ToUpper(requestModel.InviteCode))
		switch {
		case err == nil:
			user.InviterID = &inviter.ID
		case errors.Is(err, storage.ErrNoRows):
			return entities.User{}, apperr.New(apperr.CodeValidation, "unknown invite code")
		default:
			return entities.User{}, err
		}
	}

	if err := h.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return h.users.GetUserByPayerIdentity(ctx, requestModel.OpenID)
		}

		return entities.User{}, err
	}

	zap.L().Info("user registered", zap.String("user_id", user.ID), zap.Bool("invited", user.InviterID != nil))

	return user, nil
}

func (h *Handler) generateTokenAndSetCookie(res http.ResponseWriter, user entities.User) {
	accessToken, err := h.tokens.Generate(user.ID)
	if err != nil {
		h.writeError(res, err)
		return
	}

	http.SetCookie(res, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    accessToken,
		Path:     "/",
		HttpOnly: true,
	})

	h.writeJSON(res, http.StatusOK, models.LoginResponse{
		UserID:     user.ID,
		InviteCode: user.InviteCode,
		Token:      accessToken,
	})
}

func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:inviteCodeLength])
}
