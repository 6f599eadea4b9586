// Package verification turns a detection snapshot into a fire verdict by
// asking an image-understanding oracle, falling back across a matrix of
// models and credentials.
package verification

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded means the credential is rate limited for this model.
	ErrQuotaExceeded = errors.New("oracle quota exceeded")
	// ErrModelNotFound means the model is unknown to the oracle.
	ErrModelNotFound = errors.New("oracle model not found")
	// ErrEmptyResponse means the oracle answered without any text.
	ErrEmptyResponse = errors.New("oracle returned empty response")
)

// StatusError is returned for non-2xx oracle responses other than quota/not-found
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle returned status %d: %s", e.StatusCode, e.Body)
}

// Image is a fetched snapshot ready to send to the oracle
type Image struct {
	Data     []byte
	MimeType string
}

// Oracle performs a single (model, credential) attempt and returns the raw answer text.
type Oracle interface {
	Generate(ctx context.Context, model, credential, prompt string, img Image) (string, error)
}

// ImageFetcher downloads the snapshot referenced by a detection
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (Image, error)
}

// Pair is one entry of the fallback matrix
type Pair struct {
	Model      string
	Credential string
}

// BuildMatrix returns every (model, credential) pair, credential-major, in priority order.
func BuildMatrix(models, credentials []string) []Pair {
	pairs := make([]Pair, 0, len(models)*len(credentials))
	for _, cred := range credentials {
		for _, model := range models {
			pairs = append(pairs, Pair{Model: model, Credential: cred})
		}
	}
	return pairs
}

// DefaultPrompt asks the oracle for a strict JSON verdict.
const DefaultPrompt = `You verify fire alarms raised by a camera-based fire and smoke detector.
The attached image is the snapshot captured when the detector fired.

Decide whether real fire or flames are visible. Reject false triggers such as
reflections, sunlight, fog, steam, lamps or sensor noise.

Also flag the image as sensitive if it shows people in a private state
(undressed, bathroom, bedroom) so it is not forwarded by email.

Answer with JSON only, no prose:
{
  "fire_detected": true | false,
  "confidence": "low" | "medium" | "high",
  "reason": "short explanation",
  "action": "trigger_alert" | "ignore",
  "sensitive": true | false,
  "sensitive_reason": "short explanation"
}`
