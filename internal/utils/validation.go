package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"telehealth-server/internal/models"
)

// DateLayout is the wire format of appointment dates.
const DateLayout = "2006-01-02"

var validate = newValidator()

// newValidator extends gin's binding engine so the same rules apply to
// request binding and to Validate.
func newValidator() *validator.Validate {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		v = validator.New()
		v.SetTagName("binding")
	}
	mustRegister(v, "timeslot", func(fl validator.FieldLevel) bool {
		return lo.Contains(models.TimeSlots(), fl.Field().String())
	})
	mustRegister(v, "isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// Validate performs validation on a struct.
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// FormatValidationError formats validation errors into a readable string.
func FormatValidationError(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	return strings.Join(lo.Map(errs, func(e validator.FieldError, _ int) string {
		switch e.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", e.Field())
		case "timeslot":
			return fmt.Sprintf("%s must be one of the bookable time slots", e.Field())
		case "isodate":
			return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", e.Field())
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param())
		}
		return fmt.Sprintf("%s failed the %s check", e.Field(), e.Tag())
	}), ", ")
}

// BindAndValidate binds the request body to a struct and validates it.
// If validation fails, it sends a BadRequest response and returns false.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	if _, ok := err.(validator.ValidationErrors); ok {
		BadRequest(c, "Validation failed: "+FormatValidationError(err))
	} else {
		BadRequest(c, "Invalid request payload: "+err.Error())
	}
	return false
}
