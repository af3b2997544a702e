// Package advice answers assistant prompts with fixed, simulated guidance.
// No model is consulted; every answer carries a disclaimer.
package advice

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the assistant mode.
type Kind string

const (
	KindFirstAid     Kind = "first-aid"
	KindSymptoms     Kind = "symptoms"
	KindHealthReport Kind = "health-report"
)

var (
	ErrUnknownKind = errors.New("unknown advice kind")
	ErrEmptyPrompt = errors.New("prompt text is required")
)

// Answer is the reply to one prompt.
type Answer struct {
	Response   string `json:"response"`
	Disclaimer string `json:"disclaimer"`
}

type template struct {
	response   func(text string) string
	disclaimer string
}

var templates = map[Kind]template{
	KindFirstAid: {
		response: func(text string) string {
			return fmt.Sprintf("For %s, here are some first aid steps: 1. Stay calm. 2. Assess the situation. "+
				"3. Call emergency services if needed. 4. Provide basic first aid while waiting for help.", text)
		},
		disclaimer: "This is a simulated response. In a real emergency, please call emergency services immediately.",
	},
	KindSymptoms: {
		response: func(text string) string {
			return fmt.Sprintf("Based on your symptoms (%s), you might be experiencing: common cold, allergies, or fatigue. "+
				"It's recommended to consult with a healthcare professional for proper diagnosis.", text)
		},
		disclaimer: "This is a simulated response. Always consult a medical professional for proper diagnosis.",
	},
	KindHealthReport: {
		response: func(string) string {
			return "Your health report indicates normal values for most measurements. Your cholesterol and blood pressure " +
				"appear to be within normal ranges. Continue maintaining a healthy diet and regular exercise."
		},
		disclaimer: "This is a simulated response. Please have your health reports reviewed by a medical professional.",
	},
}

// Service is the simulated assistant.
type Service struct{}

// NewService creates the assistant.
func NewService() *Service { return &Service{} }

// Respond answers text in the given mode.
func (s *Service) Respond(kind Kind, text string) (Answer, error) {
	tpl, ok := templates[kind]
	if !ok {
		return Answer{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Answer{}, ErrEmptyPrompt
	}
	return Answer{Response: tpl.response(text), Disclaimer: tpl.disclaimer}, nil
}
