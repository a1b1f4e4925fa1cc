package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/models"
	"github.com/carebridge/carebridge/internal/services"
	"github.com/carebridge/carebridge/pkg/response"
)

// AuthHandler manages registration, login and the caller's contact methods.
type AuthHandler struct {
	users *services.UserService
	jwt   *iauth.JWTService
}

func NewAuthHandler(users *services.UserService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

type registerRequest struct {
	HealthID string `json:"health_id" validate:"required,healthid"`
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password" validate:"required,password"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type addEmailRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Primary bool   `json:"primary"`
}

type updatePhoneRequest struct {
	Phone string `json:"phone" validate:"omitempty,phone"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int          `json:"expires_in"`
	User        *models.User `json:"user"`
}

type meResponse struct {
	User     *models.User              `json:"user"`
	Contacts services.VerifiedContacts `json:"verified_contacts"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		HealthID: req.HealthID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), req.Identifier, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	issued, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, HealthID: user.HealthID})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, loginResponse{
		AccessToken: issued.Token,
		ExpiresIn:   int(h.jwt.TTL().Seconds()),
		User:        user,
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	contacts, err := h.users.VerifiedContacts(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, meResponse{User: user, Contacts: contacts})
}

// POST /api/auth/emails
func (h *AuthHandler) AddEmail(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req addEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	email, err := h.users.AddEmail(requestContext(c), userID, req.Email, req.Primary)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, email)
}

// POST /api/auth/emails/:id/verify
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.users.VerifyEmail(requestContext(c), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

// PUT /api/auth/phone
func (h *AuthHandler) UpdatePhone(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req updatePhoneRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.users.UpdatePhone(requestContext(c), userID, req.Phone); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// POST /api/auth/phone/verify
func (h *AuthHandler) VerifyPhone(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.users.VerifyPhone(requestContext(c), userID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"verified": true})
}
