package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
)

const (
	searchLimit     = 20
	maxPhotoSize    = 10 << 20
	photoFormField  = "profile_picture"
	multipartMemory = 1 << 20
)

var (
	errFieldNotAccessible = NewBadRequestError("Field not found or not accessible")
	errFieldNotFound      = NewNotFoundError("Field not found")
	errWrongPassword      = NewBadRequestError("Old password is incorrect")
	errNotAnImage         = NewBadRequestError("Only image files are allowed")
	errNoPhoto            = NewBadRequestError("Please upload a profile picture")
	errPhotoTooLarge      = NewBadRequestError("File too large")
	errPhotosDisabled     = NewApiError(http.StatusServiceUnavailable, "Photo uploads are not configured")
)

type UpdateUserRequest struct {
	Name      *string            `json:"name" validate:"omitempty,min=3,max=50"`
	Email     *string            `json:"email" validate:"omitempty,email"`
	Addresses []database.Address `json:"addresses"`
}

type UpdatePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword" validate:"min=6"`
}

type UpdateProfileRequest struct {
	Bio            *string  `json:"bio" validate:"omitempty,max=500"`
	Interests      []string `json:"interests" validate:"dive,max=50"`
	ProfilePicture *string  `json:"profile_picture" validate:"omitempty,url"`
}

func currentUser(r *http.Request) database.User {
	u, _ := UserFrom(r.Context())
	return u
}

func (s *GoChatApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.SearchUsers(r.Context(), strings.TrimSpace(r.URL.Query().Get("query")), searchLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := make([]types.User, 0, len(users))
	for _, u := range users {
		res = append(res, types.NewUserSummary(u))
	}

	s.writeJson(w, http.StatusOK, dataResponse(res))
}

func (s *GoChatApp) getUserById(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, errUserNotFound)
		return
	}

	user, err := s.db.GetUserById(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = errUserNotFound
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(types.NewUser(user)))
}

func (s *GoChatApp) updateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Email != nil {
		trimmed := strings.TrimSpace(*req.Email)
		req.Email = &trimmed
	}
	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.db.UpdateUser(r.Context(), database.UpdateUserParams{
		UserId:    currentUser(r).Id,
		Name:      req.Name,
		Email:     req.Email,
		Addresses: req.Addresses,
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicateEmail):
			err = errDuplicateEmail
		case errors.Is(err, database.ErrNotFound):
			err = errUserNotFound
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(types.NewUser(user)))
}

func (s *GoChatApp) deactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeactivateUser(r.Context(), currentUser(r).Id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = errUserNotFound
		}
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) getUserField(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var (
		value any
		empty bool
	)
	switch chi.URLParam(r, "field") {
	case "name":
		value, empty = user.Name, user.Name == ""
	case "email":
		value, empty = user.Email, user.Email == ""
	case "profile":
		p := user.Profile
		value = p
		empty = p.Bio == "" && len(p.Interests) == 0 && p.ProfilePicture == ""
	case "friends":
		value, empty = user.Friends, len(user.Friends) == 0
	case "addresses":
		value, empty = user.Addresses, len(user.Addresses) == 0
	default:
		s.writeError(w, r, errFieldNotAccessible)
		return
	}

	if empty {
		s.writeError(w, r, errFieldNotFound)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(value))
}

func (s *GoChatApp) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req UpdatePasswordRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user := currentUser(r)
	if err := s.hasher.Compare(user.PasswordHash, req.OldPassword); err != nil {
		s.writeError(w, r, errWrongPassword)
		return
	}

	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.db.UpdatePassword(r.Context(), user.Id, hash); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, messageResponse("Password updated successfully"))
}

func (s *GoChatApp) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := s.readJson(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	profile := currentUser(r).Profile
	if req.Bio != nil {
		profile.Bio = *req.Bio
	}
	if req.Interests != nil {
		profile.Interests = req.Interests
	}
	if req.ProfilePicture != nil {
		profile.ProfilePicture = *req.ProfilePicture
	}

	s.saveProfile(w, r, profile)
}

func (s *GoChatApp) saveProfile(w http.ResponseWriter, r *http.Request, profile database.Profile) {
	user, err := s.db.UpdateProfile(r.Context(), currentUser(r).Id, profile)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = errUserNotFound
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, dataResponse(user.Profile))
}

func (s *GoChatApp) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	if s.photos == nil {
		s.writeError(w, r, errPhotosDisabled)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, errPhotoTooLarge)
			return
		}
		s.writeError(w, r, errNoPhoto)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(photoFormField)
	if err != nil {
		s.writeError(w, r, errNoPhoto)
		return
	}
	defer file.Close()

	if header.Size > maxPhotoSize {
		s.writeError(w, r, errPhotoTooLarge)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		s.writeError(w, r, errNotAnImage)
		return
	}

	user := currentUser(r)
	url, err := s.photos.Save(r.Context(), user.Id, filepath.Ext(header.Filename), contentType, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	profile := user.Profile
	profile.ProfilePicture = url
	s.saveProfile(w, r, profile)
}
