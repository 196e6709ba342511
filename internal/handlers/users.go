package handlers

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/accountd/apiserver/internal/auth"
	"github.com/accountd/apiserver/internal/services"
	"github.com/accountd/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxAvatarBytes   = 5 << 20
	formFieldAvatar  = "avatar"
	sniffContentSize = 512
)

// UserHandler provides HTTP handlers for the user directory.
type UserHandler struct {
	userService *services.UserService
	authz       auth.Authorizer
	logger      *slog.Logger
}

func NewUserHandler(userService *services.UserService, authz auth.Authorizer, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		authz:       authz,
		logger:      logger.With("component", "user_handler"),
	}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, h *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/", h.CreateUser)
	r.With(authMiddleware).Get("/", h.ListUsers)
	r.With(authMiddleware).Get("/by-email", h.GetUserByEmail)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/avatar", h.GetAvatar)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/", h.GetUser)
			r.Patch("/", h.UpdateUser)
			r.Delete("/", h.DeleteUser)
			r.Put("/avatar", h.SetAvatar)
		})
	})
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role, _ := types.ParseRole(req.Role)
	user, err := h.userService.Create(r.Context(), types.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     role,
	}, &actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	opts, err := parsePageOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	users, err := h.userService.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if users == nil {
		users = []types.User{}
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Items: users,
		Skip:  opts.Skip,
		Limit: opts.Limit,
		Order: opts.Order,
	})
}

func (h *UserHandler) GetUserByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch := req.patch()
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	updated, err := h.userService.Update(r.Context(), id, patch, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteUser is limited to the account owner and admins. Deleting an id
// that matches no row answers 404.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authz.CanAct(id, actor) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	affected, err := h.userService.Delete(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if affected == 0 {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) SetAvatar(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+(1<<16))
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(formFieldAvatar)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	if header.Size > maxAvatarBytes {
		writeError(w, http.StatusBadRequest, "avatar too large")
		return
	}
	contentType, content, err := sniffImage(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.userService.SetAvatar(r.Context(), id, actor, content, header.Size, contentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, err := h.userService.OpenAvatar(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	contentType, content, err := sniffImage(rc)
	if err != nil {
		h.logger.WarnContext(r.Context(), "stored avatar is not an image",
			"error", err,
			"user_id", id)
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content); err != nil {
		h.logger.WarnContext(r.Context(), "failed to stream avatar",
			"error", err,
			"user_id", id)
	}
}

// sniffImage detects the media type from the leading bytes and returns a
// reader that still yields the whole content.
func sniffImage(r io.Reader) (string, io.Reader, error) {
	buffered := bufio.NewReaderSize(r, sniffContentSize)
	head, err := buffered.Peek(sniffContentSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", buffered, errors.New("failed to read upload")
	}
	if len(head) == 0 {
		return "", buffered, errors.New("avatar is empty")
	}
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return "", buffered, errors.New("avatar must be an image")
	}
	return contentType, buffered, nil
}

func parsePageOptions(r *http.Request) (types.PageOptions, error) {
	query := r.URL.Query()
	var opts types.PageOptions

	ints := []struct {
		name string
		dst  *int
		min  int
	}{
		{"skip", &opts.Skip, 0},
		{"limit", &opts.Limit, 1},
		{"page", &opts.Page, 1},
	}
	for _, p := range ints {
		raw := strings.TrimSpace(query.Get(p.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < p.min {
			return types.PageOptions{}, errors.New("invalid " + p.name)
		}
		*p.dst = v
	}

	order, ok := types.ParseOrder(query.Get("order"))
	if !ok {
		return types.PageOptions{}, errors.New("invalid order")
	}
	opts.Order = order

	return opts.Normalize(), nil
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user"`
}

func (r *CreateUserRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
}

type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitnil,email"`
	Name     *string `json:"name" validate:"omitnil,max=100"`
	Password *string `json:"password" validate:"omitnil,min=8,max=72"`
	Role     *string `json:"role" validate:"omitnil,oneof=admin user"`
}

func (r *UpdateUserRequest) normalize() {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(r.Email)
	trim(r.Name)
	if r.Role != nil {
		*r.Role = strings.ToLower(strings.TrimSpace(*r.Role))
	}
}

func (r UpdateUserRequest) patch() types.UserPatch {
	patch := types.UserPatch{
		Email:    r.Email,
		Name:     r.Name,
		Password: r.Password,
	}
	if r.Role != nil {
		role := types.Role(*r.Role)
		patch.Role = &role
	}
	return patch
}

// UserListResponse is the paginated list response payload.
type UserListResponse struct {
	Items []types.User `json:"items"`
	Skip  int          `json:"skip"`
	Limit int          `json:"limit"`
	Order types.Order  `json:"order"`
}
