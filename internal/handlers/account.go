package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/handsomefox/watchwise/internal/auth"
	"github.com/handsomefox/watchwise/internal/store"
	"github.com/handsomefox/watchwise/internal/tracking"
)

const maxSaveAttempts = 3

type registerRequest struct {
	Name     string `json:"name" validate:"required|maxLen:100"`
	Email    string `json:"email" validate:"required|email"`
	Password string `json:"password" validate:"required|minLen:8|maxLen:72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type profileFields struct {
	Name  string `validate:"required|maxLen:100"`
	Email string `validate:"required|email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required|minLen:8|maxLen:72"`
}

type userResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Stats     tracking.Stats `json:"stats"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func toUserResponse(u *tracking.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Stats:     u.Stats,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (h *Handler) postRegister(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = store.NormalizeEmail(req.Email)
	if err := validateRequest(&req); err != nil {
		return err
	}

	hash, err := hashPassword(req.Password, "password")
	if err != nil {
		return err
	}

	user := &tracking.User{Name: req.Name, Email: req.Email, PasswordHash: hash}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		return err
	}

	return h.writeSession(w, http.StatusCreated, user)
}

func (h *Handler) postLogin(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := validateRequest(&req); err != nil {
		return err
	}

	user, err := h.users.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return unauthorized("invalid email or password")
		}
		return err
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		slog.Warn("login: invalid password", slog.String("remote", r.RemoteAddr))
		return unauthorized("invalid email or password")
	}

	return h.writeSession(w, http.StatusOK, user)
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, user *tracking.User) error {
	token, exp, err := h.tokens.Issue(user.ID, h.now())
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	writeJSON(w, status, &sessionResponse{Token: token, ExpiresAt: exp, User: toUserResponse(user)})
	return nil
}

// hashPassword reports an over-long password as invalid input on field.
func hashPassword(password, field string) (string, error) {
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		msg := field + " must be at most " + strconv.Itoa(auth.MaxPasswordBytes) + " bytes"
		return "", tracking.NewError(tracking.KindInvalidInput, msg, err, field)
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (h *Handler) getMe(w http.ResponseWriter, r *http.Request) error {
	user, err := h.users.FindUser(r.Context(), userID(r))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
	return nil
}

func (h *Handler) putMe(w http.ResponseWriter, r *http.Request) error {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	user, err := h.updateUser(r.Context(), userID(r), func(u *tracking.User) error {
		fields := profileFields{Name: u.Name, Email: u.Email}
		if req.Name != nil {
			fields.Name = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil {
			fields.Email = store.NormalizeEmail(*req.Email)
		}
		if err := validateRequest(&fields); err != nil {
			return err
		}
		u.Name = fields.Name
		u.Email = fields.Email
		return nil
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
	return nil
}

func (h *Handler) putPassword(w http.ResponseWriter, r *http.Request) error {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := validateRequest(&req); err != nil {
		return err
	}
	hash, err := hashPassword(req.NewPassword, "newPassword")
	if err != nil {
		return err
	}

	_, err = h.updateUser(r.Context(), userID(r), func(u *tracking.User) error {
		if err := auth.CheckPassword(u.PasswordHash, req.CurrentPassword); err != nil {
			return tracking.NewError(tracking.KindInvalidInput, "current password is incorrect", nil, "currentPassword")
		}
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) deleteMe(w http.ResponseWriter, r *http.Request) error {
	if err := h.users.DeleteUser(r.Context(), userID(r)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// updateUser applies fn to a fresh copy of the user and saves it, retrying
// when another request saved the document in between.
func (h *Handler) updateUser(ctx context.Context, id string, fn func(*tracking.User) error) (*tracking.User, error) {
	for range maxSaveAttempts {
		user, err := h.users.FindUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(user); err != nil {
			return nil, err
		}
		user.UpdatedAt = h.now()
		err = h.users.SaveUser(ctx, user)
		if errors.Is(err, tracking.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return user, nil
	}
	return nil, tracking.NewError(tracking.KindConflict, "profile was updated concurrently, try again", nil)
}
