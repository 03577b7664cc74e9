package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"user_directory/internal/middleware"
	"user_directory/internal/model"
	"user_directory/internal/service"
	"user_directory/internal/validation"

	"github.com/gin-gonic/gin"
)

// UserHandler handles user directory requests
type UserHandler struct {
	service service.UserService
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(s service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// Helper to get the authenticated user from context
func getAuthUser(c *gin.Context) (*model.User, error) {
	userVal, exists := c.Get(middleware.AuthUserKey)
	if !exists {
		return nil, errors.New("user not found in context")
	}
	user, ok := userVal.(*model.User)
	if !ok {
		return nil, errors.New("invalid user type in context")
	}
	return user, nil
}

// respondError maps service errors to status codes. Anything unexpected is logged
// and reported with the generic message.
func respondError(c *gin.Context, err error, generic string) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, model.WebResponse{Errors: verr.Violations})
	case errors.Is(err, service.ErrDuplicateEmail):
		c.JSON(http.StatusBadRequest, model.WebResponse{Errors: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, model.WebResponse{Errors: service.ErrInvalidCredentials.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, model.WebResponse{Errors: err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Printf("%s: %v", generic, err)
		c.JSON(http.StatusServiceUnavailable, model.WebResponse{Errors: "Request timed out, try again"})
	default:
		log.Printf("%s: %v", generic, err)
		c.JSON(http.StatusInternalServerError, model.WebResponse{Errors: generic})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, model.WebResponse{Errors: validation.BindError(err).Violations})
}

func (h *UserHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to register user")
		return
	}
	c.JSON(http.StatusOK, model.WebResponse{Data: profile})
}

func (h *UserHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to login")
		return
	}
	c.JSON(http.StatusOK, model.WebResponse{Data: profile})
}

func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := getAuthUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.WebResponse{Errors: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.WebResponse{Data: h.service.GetProfile(user)})
}

func (h *UserHandler) Update(c *gin.Context) {
	user, err := getAuthUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.WebResponse{Errors: err.Error()})
		return
	}

	var req model.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := h.service.UpdateProfile(c.Request.Context(), user, req)
	if err != nil {
		respondError(c, err, "Failed to update user")
		return
	}
	c.JSON(http.StatusOK, model.WebResponse{Data: profile})
}

func (h *UserHandler) DeleteUserByEmail(c *gin.Context) {
	var req model.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := h.service.DeleteByEmail(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to delete user")
		return
	}
	c.JSON(http.StatusOK, model.WebResponse{Data: profile})
}

func (h *UserHandler) FindByEmail(c *gin.Context) {
	req := model.EmailRequest{Email: c.Query("email")}
	profile, err := h.service.FindByEmail(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to find user")
		return
	}
	c.JSON(http.StatusOK, model.WebResponse{Data: profile})
}

// RegisterUserRoutes registers user routes. authMW guards everything that acts on an existing account.
func (h *UserHandler) RegisterUserRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	users := rg.Group("/users")
	{
		users.POST("/register", h.Register)
		users.POST("/login", h.Login)
	}

	authed := users.Group("", authMW)
	{
		authed.GET("/get-user", h.GetUser)
		authed.PATCH("/update", h.Update)
		authed.DELETE("/delete-user-by-email", h.DeleteUserByEmail)
		authed.GET("/find-by-email", h.FindByEmail)
	}
}
