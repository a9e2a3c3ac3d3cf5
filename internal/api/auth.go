package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
	"go.uber.org/zap"
)

var (
	errSignupFields       = NewBadRequestError("Please provide name, email, and password")
	errLoginFields        = NewBadRequestError("Please provide email and password")
	errInvalidCredentials = NewUnauthorizedError("Invalid credentials")
	errMeNoToken          = NewUnauthorizedError("No token provided")
)

type SignupRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *GoChatApp) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, r, errSignupFields)
		return
	}

	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.db.CreateUser(r.Context(), database.CreateUserParams{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			err = errDuplicateEmail
		}
		s.writeError(w, r, err)
		return
	}

	token, err := s.codec.Issue(user.Id)
	if err != nil {
		if delErr := s.db.DeleteUser(r.Context(), user.Id); delErr != nil {
			s.log.Error("failed to remove user after token error", zap.Int("user_id", user.Id), zap.Error(delErr))
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusCreated, response{
		Status: statusSuccess,
		Token:  token,
		User:   types.NewUserSummary(user),
	})
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Email == "" || req.Password == "" {
		s.writeError(w, r, errLoginFields)
		return
	}

	user, err := s.db.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = errInvalidCredentials
		}
		s.writeError(w, r, err)
		return
	}

	if !user.Active {
		s.writeError(w, r, errInvalidCredentials)
		return
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		s.log.Debug("password comparison failed", zap.Int("user_id", user.Id), zap.Error(err))
		s.writeError(w, r, errInvalidCredentials)
		return
	}

	token, err := s.codec.Issue(user.Id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, response{
		Status: statusSuccess,
		Token:  token,
		User:   types.NewUserSummary(user),
	})
}

// logout is stateless; clients discard their token.
func (s *GoChatApp) logout(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, messageResponse("Logged out successfully"))
}

// me serves both /auth/me, which extracts the token itself, and /users/me,
// which runs behind the auth middleware.
func (s *GoChatApp) me(w http.ResponseWriter, r *http.Request) {
	if user, ok := UserFrom(r.Context()); ok {
		s.writeJson(w, http.StatusOK, response{Status: statusSuccess, User: types.NewUser(user)})
		return
	}

	token := bearerToken(r)
	if token == "" {
		s.writeError(w, r, errMeNoToken)
		return
	}

	userId, err := s.verifyToken(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = errUserNotFound
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, response{Status: statusSuccess, User: types.NewUser(user)})
}
