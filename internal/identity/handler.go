package identity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/procurehub/procurehub/internal/shared"
)

// Handler exposes authentication and account administration over JSON.
type Handler struct {
	svc      *Service
	sessions *shared.SessionManager
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{svc: svc, sessions: sessions, validate: validator.New()}
}

// AuthRoutes mounts the session endpoints. These sit outside the
// authenticated router group.
func (h *Handler) AuthRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

// Routes mounts the account administration endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.me)
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.listUsers)
		r.Post("/", h.createUser)
		r.Patch("/{id}", h.updateUser)
		r.Post("/{id}/password", h.changePassword)
	})
	r.Route("/departments", func(r chi.Router) {
		r.Get("/", h.listDepartments)
		r.Post("/", h.createDepartment)
		r.Post("/{id}/activate", h.setDepartmentActive(true))
		r.Post("/{id}/deactivate", h.setDepartmentActive(false))
	})
}

type userResponse struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	DepartmentID int64  `json:"department_id,omitempty"`
	Active       bool   `json:"active"`
	LastLogin    string `json:"last_login,omitempty"`
}

func toUserResponse(u User) userResponse {
	resp := userResponse{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         string(u.Role),
		DepartmentID: u.DepartmentID,
		Active:       u.Active,
	}
	if !u.LastLogin.IsZero() {
		resp.LastLogin = u.LastLogin.Format(time.RFC3339)
	}
	return resp
}

type departmentResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Active bool   `json:"active"`
}

func toDepartmentResponse(d Department) departmentResponse {
	return departmentResponse{ID: d.ID, Name: d.Name, Code: d.Code, Active: d.Active}
}

type loginPayload struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	u, err := h.svc.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sess, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sess.SetUser(u.ID)
	if err := h.sessions.Commit(r.Context(), w, sess); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	h.sessions.Destroy(sess)
	if err := h.sessions.Commit(r.Context(), w, sess); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		shared.WriteError(w, shared.ErrPermissionDenied)
		return
	}
	u, err := h.svc.GetUser(r.Context(), actor.ID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	users, err := h.svc.ListUsers(r.Context(), actor)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createUserPayload struct {
	Username     string `json:"username" validate:"required"`
	Email        string `json:"email" validate:"omitempty,email"`
	Password     string `json:"password" validate:"required"`
	Role         string `json:"role" validate:"required"`
	DepartmentID int64  `json:"department_id"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var payload createUserPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	u, err := h.svc.CreateUser(r.Context(), actor, CreateUserInput{
		Username:     payload.Username,
		Email:        payload.Email,
		Password:     payload.Password,
		Role:         payload.Role,
		DepartmentID: payload.DepartmentID,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

type updateUserPayload struct {
	Email        *string `json:"email"`
	Role         *string `json:"role"`
	DepartmentID *int64  `json:"department_id"`
	Active       *bool   `json:"active"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var payload updateUserPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	u, err := h.svc.UpdateUser(r.Context(), actor, id, UpdateUserInput{
		Email:        payload.Email,
		Role:         payload.Role,
		DepartmentID: payload.DepartmentID,
		Active:       payload.Active,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

type passwordPayload struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var payload passwordPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), actor, id, payload.Password); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) listDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.svc.ListDepartments(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items := make([]departmentResponse, 0, len(departments))
	for _, d := range departments {
		items = append(items, toDepartmentResponse(d))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createDepartmentPayload struct {
	Name string `json:"name" validate:"required"`
	Code string `json:"code" validate:"required"`
}

func (h *Handler) createDepartment(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var payload createDepartmentPayload
	if err := h.decode(r, &payload); err != nil {
		shared.WriteError(w, err)
		return
	}
	d, err := h.svc.CreateDepartment(r.Context(), actor, payload.Name, payload.Code)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toDepartmentResponse(d))
}

func (h *Handler) setDepartmentActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		id, err := pathID(r)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		if err := h.svc.SetDepartmentActive(r.Context(), actor, id, active); err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusNoContent, nil)
	}
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed body: %w", shared.ErrValidation)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", err, shared.ErrValidation)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
