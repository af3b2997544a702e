package handlers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"telehealth-server/internal/config"
	"telehealth-server/internal/middleware"
	"telehealth-server/internal/models"
	"telehealth-server/internal/utils"
)

const refreshCookie = "refresh_token"

var errTokenRevoked = errors.New("refresh token not found, expired, or revoked")

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{DB: db, Cfg: cfg}
}

// RegisterRequest represents the request body for user registration.
type RegisterRequest struct {
	FullName  string `json:"fullName" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=patient doctor"`
	Specialty string `json:"specialty"`
}

// Register handles user registration. Administrators are never
// self-registered.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	err := h.DB.Where("email = ?", email).First(&existing).Error
	if err == nil {
		utils.BadRequest(c, "User with this email already exists")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.InternalServerError(c, "Database error: "+err.Error())
		return
	}

	user := models.User{
		FullName: strings.TrimSpace(req.FullName),
		Email:    email,
		Role:     models.Role(req.Role),
	}
	if user.Role == models.RoleDoctor {
		user.Specialty = req.Specialty
	}
	if err := user.SetPassword(req.Password); err != nil {
		utils.InternalServerError(c, "Failed to hash password: "+err.Error())
		return
	}
	if err := h.DB.Create(&user).Error; err != nil {
		utils.InternalServerError(c, "Failed to create user: "+err.Error())
		return
	}

	utils.Created(c, "User registered successfully", user.Sanitize())
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	if err := h.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return
	}
	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	tokens, err := h.issueTokens(h.DB, &user)
	if err != nil {
		utils.InternalServerError(c, err.Error())
		return
	}
	h.setRefreshCookie(c, tokens.RefreshToken)

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         user.Sanitize(),
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken exchanges a refresh token for a new token pair. The presented
// token is revoked in the same transaction, so it can be used only once.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	presented, err := c.Cookie(refreshCookie)
	if err != nil || presented == "" {
		var req RefreshTokenRequest
		if !utils.BindAndValidate(c, &req) {
			return
		}
		presented = req.RefreshToken
	}

	claims, err := utils.ValidateToken(presented, h.Cfg.JWTRefreshSecret, utils.RefreshToken)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token: "+err.Error())
		return
	}

	var tokens utils.TokenPair
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.RefreshToken{}).
			Where("token = ? AND user_id = ? AND is_revoked = ? AND expires_at > ?", presented, claims.UserID, false, now).
			Updates(map[string]any{"is_revoked": true, "expires_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTokenRevoked
		}

		var user models.User
		if err := tx.First(&user, "id = ?", claims.UserID).Error; err != nil {
			return err
		}
		issued, err := h.issueTokens(tx, &user)
		tokens = issued
		return err
	})
	switch {
	case errors.Is(err, errTokenRevoked), errors.Is(err, gorm.ErrRecordNotFound):
		utils.Unauthorized(c, errTokenRevoked.Error())
		return
	case err != nil:
		utils.InternalServerError(c, "Failed to refresh token: "+err.Error())
		return
	}
	h.setRefreshCookie(c, tokens.RefreshToken)

	utils.Success(c, "Access token refreshed successfully", gin.H{
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
	})
}

// Logout revokes the presented refresh token. Unknown or already revoked
// tokens are not an error.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req RefreshTokenRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var stored models.RefreshToken
	err := h.DB.Where("token = ? AND is_revoked = ?", req.RefreshToken, false).First(&stored).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		utils.InternalServerError(c, "Database error during logout: "+err.Error())
		return
	default:
		stored.Revoke(time.Now())
		if err := h.DB.Save(&stored).Error; err != nil {
			utils.InternalServerError(c, "Failed to revoke refresh token: "+err.Error())
			return
		}
	}

	c.SetCookie(refreshCookie, "", -1, "/", "", h.Cfg.Environment != "development", true)
	utils.Success(c, "Logout successful", nil)
}

// GetProfile returns the authenticated user.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}

// UpdateProfileRequest represents the request body for updating user profile.
type UpdateProfileRequest struct {
	FullName  string `json:"fullName"`
	Specialty string `json:"specialty"`
}

// UpdateProfile updates the authenticated user's name and, for doctors, the
// specialty.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if name := strings.TrimSpace(req.FullName); name != "" {
		user.FullName = name
	}
	if user.Role == models.RoleDoctor && req.Specialty != "" {
		user.Specialty = req.Specialty
	}
	if err := h.DB.Save(user).Error; err != nil {
		utils.InternalServerError(c, "Failed to update profile: "+err.Error())
		return
	}

	utils.Success(c, "Profile updated successfully", user.Sanitize())
}

func (h *AuthHandler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return nil, false
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User profile not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return nil, false
	}
	return &user, true
}

// issueTokens signs a token pair and stores the refresh token through db.
func (h *AuthHandler) issueTokens(db *gorm.DB, user *models.User) (utils.TokenPair, error) {
	tokens, err := utils.GenerateTokens(user, h.Cfg)
	if err != nil {
		return utils.TokenPair{}, err
	}
	stored := models.RefreshToken{
		UserID:    user.ID,
		Token:     tokens.RefreshToken,
		ExpiresAt: tokens.RefreshExpiresAt,
	}
	if err := db.Create(&stored).Error; err != nil {
		return utils.TokenPair{}, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return tokens, nil
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetCookie(refreshCookie, token, h.Cfg.JWTRefreshExpirationHours*60*60, "/", "", h.Cfg.Environment != "development", true)
}
