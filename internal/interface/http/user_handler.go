package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	userapp "github.com/oksasatya/user-directory/internal/application"
	"github.com/oksasatya/user-directory/pkg/response"
	"github.com/oksasatya/user-directory/pkg/validation"
)

type UserHandler struct {
	Svc    *userapp.Service
	Logger *logrus.Logger
}

func NewUserHandler(svc *userapp.Service, logger *logrus.Logger) *UserHandler {
	return &UserHandler{Svc: svc, Logger: logger}
}

type createUserRequest struct {
	Name  string `json:"name" binding:"required,username"`
	Email string `json:"email" binding:"required,useremail"`
	Age   int    `json:"age" binding:"required,gt=0,max=150"`
}

// updateUserRequest fields are optional; at least one must be present.
type updateUserRequest struct {
	Name  string `json:"name" binding:"omitempty,username"`
	Email string `json:"email" binding:"omitempty,useremail"`
	Age   int    `json:"age" binding:"omitempty,gt=0,max=150"`
}

func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.Svc.Create(c.Request.Context(), userapp.CreateUserInput{Name: req.Name, Email: req.Email, Age: req.Age})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, "/api/users/"+u.ID, u, "user created")
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.Svc.GetAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.List(c, users, "users")
}

func (h *UserHandler) GetByID(c *gin.Context) {
	u, err := h.Svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, u, "user", nil)
}

func (h *UserHandler) GetByEmail(c *gin.Context) {
	u, err := h.Svc.GetByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, u, "user", nil)
}

func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Name == "" && req.Email == "" && req.Age == 0 {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", response.ErrorBody{
			Code:    "validation_failed",
			Details: map[string]string{"payload": "at least one of name, email, age is required"},
		})
		return
	}
	u, err := h.Svc.Update(c.Request.Context(), c.Param("id"), userapp.UpdateUserInput{Name: req.Name, Email: req.Email, Age: req.Age})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, u, "user updated", nil)
}

// Delete answers 204 whether or not the user existed.
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.Svc.DeleteByID(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *UserHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		response.Error[any](c, http.StatusBadRequest, "invalid query", response.ErrorBody{
			Code:    "validation_failed",
			Details: map[string]string{"q": "is required"},
		})
		return
	}
	size, _ := strconv.Atoi(c.Query("size"))
	users, err := h.Svc.Search(c.Request.Context(), q, size)
	if err != nil {
		h.Logger.WithError(err).WithField("q", q).Warn("user search failed")
		response.Error[any](c, http.StatusBadGateway, "search unavailable", response.ErrorBody{Code: "search_unavailable"})
		return
	}
	response.List(c, users, "search results")
}

func (h *UserHandler) Export(c *gin.Context) {
	loc, err := h.Svc.Export(c.Request.Context())
	if err != nil {
		if errors.Is(err, userapp.ErrExportNotConfigured) {
			response.Error[any](c, http.StatusNotImplemented, "export not configured", response.ErrorBody{Code: "export_disabled"})
			return
		}
		if errors.Is(err, userapp.ErrStorage) {
			h.fail(c, err)
			return
		}
		h.Logger.WithError(err).Error("user export failed")
		response.Error[any](c, http.StatusBadGateway, "export failed", response.ErrorBody{Code: "export_failed"})
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"location": loc}, "export written", nil)
}

func badRequest(c *gin.Context, err error) {
	response.Error[any](c, http.StatusBadRequest, "invalid payload", response.ErrorBody{
		Code:    "validation_failed",
		Details: validation.ToDetails(err),
	})
}

// fail maps lifecycle errors onto HTTP statuses.
func (h *UserHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, userapp.ErrUserNotFound):
		response.Error[any](c, http.StatusNotFound, err.Error(), response.ErrorBody{Code: "not_found"})
	case errors.Is(err, userapp.ErrEmailTaken):
		response.Error[any](c, http.StatusConflict, err.Error(), response.ErrorBody{Code: "email_taken"})
	default:
		// StorageError is already logged by the service
		if !errors.Is(err, userapp.ErrStorage) {
			h.Logger.WithError(err).WithField("path", c.FullPath()).Error("unhandled user error")
		}
		response.Error[any](c, http.StatusInternalServerError, "internal error", response.ErrorBody{Code: "internal"})
	}
}
