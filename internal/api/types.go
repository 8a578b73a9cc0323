package api

import (
	"errors"
	"fmt"
)

// Training labels accepted by the training endpoint
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelSimilar  = "similar"
)

// ErrInvalidLabel is returned for a training label outside the accepted set
var ErrInvalidLabel = errors.New("invalid training label")

// ValidateLabel checks a training label locally before upload
func ValidateLabel(label string) error {
	switch label {
	case LabelPositive, LabelNegative, LabelSimilar:
		return nil
	default:
		return fmt.Errorf("%w %q: must be one of %s, %s, %s",
			ErrInvalidLabel, label, LabelPositive, LabelNegative, LabelSimilar)
	}
}

// Prediction is the inference result for one clip
type Prediction struct {
	SoundID    string  `json:"sound_id"`
	SoundName  string  `json:"sound_name"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// Detection is a stored inference event from the user's history
type Detection struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	SoundID    string  `json:"sound_id"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

// Sound is a user-defined sound to recognize
type Sound struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Icon        string  `json:"icon,omitempty"`
	Sensitivity float64 `json:"sensitivity"`
	Active      bool    `json:"active"`
}

// DefaultSensitivity is applied by the API when a sound is created without one
const DefaultSensitivity = 0.6

// SoundCreate is the payload for a new sound
type SoundCreate struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Sensitivity *float64 `json:"sensitivity,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

// SoundUpdate is a partial sound update; nil fields are left unchanged
type SoundUpdate struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Icon        *string  `json:"icon,omitempty"`
	Sensitivity *float64 `json:"sensitivity,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

type soundList struct {
	Sounds []Sound `json:"sounds"`
}

// TrainingSample is the stored record of an uploaded training clip
type TrainingSample struct {
	ID        string `json:"id"`
	SoundID   string `json:"sound_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// RebuildResult reports the classifier rebuild
type RebuildResult struct {
	Samples int    `json:"samples"`
	Sounds  int    `json:"sounds"`
	Status  string `json:"status"`
}

// Health is the API health report
type Health struct {
	Status           string `json:"status"`
	EmbeddingBackend string `json:"embedding_backend"`
}

// APIError is a non-2xx response. Body holds the raw response text.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if retried
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
