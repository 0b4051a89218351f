package speech

import (
	"fmt"
	"strings"

	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

// Phrases holds every sentence the kiosk speaks.
type Phrases struct {
	CameraUnavailable string `yaml:"camera_unavailable"`
	OnboardingPrompt  string `yaml:"onboarding_prompt"`
	OnboardingSuccess string `yaml:"onboarding_success"`
	IntroductionOne   string `yaml:"introduction_one"`
	IntroductionMany  string `yaml:"introduction_many"`
	GreetingStranger  string `yaml:"greeting_stranger"`
	GreetingNamed     string `yaml:"greeting_named"`
	NotUnderstood     string `yaml:"not_understood"`
	BotUnavailable    string `yaml:"bot_unavailable"`
	SpeechUnavailable string `yaml:"speech_unavailable"`
}

// DefaultPhrases returns the built-in English phrases.
func DefaultPhrases() Phrases {
	return Phrases{
		CameraUnavailable: "The camera is not available. Please ask a member of staff for help.",
		OnboardingPrompt:  "Please show the setup code to the camera.",
		OnboardingSuccess: "Setup complete. This exhibit is ready.",
		IntroductionOne:   "Hello! Let me see who you are.",
		IntroductionMany:  "Hello everyone! Let me see who is here.",
		GreetingStranger:  "Nice to meet you! Enjoy the exhibition.",
		GreetingNamed:     "Welcome back, %s!",
		NotUnderstood:     "Sorry, I did not catch that. Could you say it again?",
		BotUnavailable:    "Sorry, I cannot answer right now.",
		SpeechUnavailable: "Voice input is not available.",
	}
}

// Introduction returns the announcement played before recognition.
func (p Phrases) Introduction(faceCount int) string {
	if faceCount > 1 {
		return p.IntroductionMany
	}

	return p.IntroductionOne
}

// Greeting builds the response for recognized faces.
func (p Phrases) Greeting(faces []detection.FaceRecord) string {
	names := make([]string, 0, len(faces))
	for _, face := range faces {
		if face.Name != "" {
			names = append(names, face.Name)
		}
	}

	if len(names) == 0 {
		return p.GreetingStranger
	}

	return fmt.Sprintf(p.GreetingNamed, joinNames(names))
}

// joinNames renders "A", "A and B", "A, B and C".
func joinNames(names []string) string {
	if len(names) == 1 {
		return names[0]
	}

	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
