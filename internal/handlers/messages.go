package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"telehealth-server/internal/middleware"
	"telehealth-server/internal/models"
	"telehealth-server/internal/store"
	"telehealth-server/internal/utils"
)

// MessageHandler serves the patient-to-doctor inbox.
type MessageHandler struct {
	DB    *gorm.DB
	Inbox *store.Messages
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(db *gorm.DB, inbox *store.Messages) *MessageHandler {
	return &MessageHandler{DB: db, Inbox: inbox}
}

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	DoctorID string `json:"doctorId" binding:"required"`
	Subject  string `json:"subject" binding:"max=255"`
	Content  string `json:"content" binding:"required"`
}

// SendMessage leaves a message in a doctor's inbox. Only patients send.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	patientID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var doctor models.User
	if err := h.DB.Where("id = ? AND role = ?", req.DoctorID, models.RoleDoctor).First(&doctor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Doctor not found")
		} else {
			utils.InternalServerError(c, "Database error verifying recipient: "+err.Error())
		}
		return
	}

	msg := models.Message{
		PatientID: patientID,
		DoctorID:  doctor.ID,
		Subject:   strings.TrimSpace(req.Subject),
		Content:   req.Content,
	}
	if err := h.Inbox.Send(c.Request.Context(), &msg); err != nil {
		utils.InternalServerError(c, "Failed to send message: "+err.Error())
		return
	}

	utils.Created(c, "Message sent successfully", msg)
}

// GetInbox lists the calling doctor's messages, newest first, with the
// unread count.
func (h *MessageHandler) GetInbox(c *gin.Context) {
	doctorID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	msgs, err := h.Inbox.ListByDoctor(c.Request.Context(), doctorID)
	if err != nil {
		utils.InternalServerError(c, "Failed to fetch messages: "+err.Error())
		return
	}
	unread, err := h.Inbox.UnreadCount(c.Request.Context(), doctorID)
	if err != nil {
		utils.InternalServerError(c, "Failed to count unread messages: "+err.Error())
		return
	}

	utils.Success(c, "Messages fetched successfully", gin.H{
		"messages": msgs,
		"unread":   unread,
	})
}

// MarkAsRead marks one of the calling doctor's messages as read.
func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	doctorID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	msg, err := h.Inbox.MarkRead(c.Request.Context(), doctorID, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			utils.NotFound(c, "Message not found")
		} else {
			utils.InternalServerError(c, err.Error())
		}
		return
	}

	utils.Success(c, "Message marked as read", msg)
}
