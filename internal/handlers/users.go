package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"telehealth-server/internal/models"
	"telehealth-server/internal/utils"
)

// UserHandler handles user directory requests.
type UserHandler struct {
	DB *gorm.DB
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{DB: db}
}

// GetDoctors lists every doctor, for patients choosing whom to book.
func (h *UserHandler) GetDoctors(c *gin.Context) {
	var doctors []models.User
	q := h.DB.Where("role = ?", models.RoleDoctor).Order("full_name asc")
	if specialty := c.Query("specialty"); specialty != "" {
		q = q.Where("specialty = ?", specialty)
	}
	if err := q.Find(&doctors).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch doctors: "+err.Error())
		return
	}

	utils.Success(c, "Doctors fetched successfully", lo.Map(doctors, func(d models.User, _ int) models.UserSanitized {
		return d.Sanitize()
	}))
}

// GetUserByID returns one user's public profile.
func (h *UserHandler) GetUserByID(c *gin.Context) {
	var user models.User
	if err := h.DB.First(&user, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "User not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return
	}
	utils.Success(c, "User fetched successfully", user.Sanitize())
}
