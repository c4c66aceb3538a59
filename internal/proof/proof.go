// Package proof models completion evidence and its scoring.
//
// Validation is a pure function of the submission: every call produces a
// score, accepted or not, and the caller persists the attempt either way so
// rejected submissions stay visible for audit.
package proof

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrValidation = errors.New("invalid proof submission")

// Method identifies how the user proves completion.
type Method string

const (
	MethodScreenshot Method = "screenshot"
	MethodQuiz       Method = "quiz"
	MethodCheckin    Method = "checkin"
)

func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodScreenshot:
		return MethodScreenshot, nil
	case MethodQuiz:
		return MethodQuiz, nil
	case MethodCheckin:
		return MethodCheckin, nil
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrValidation, s)
}

// Proof is one scored submission. Immutable once created.
type Proof struct {
	ID          string
	SessionID   string
	Method      Method
	Accepted    bool
	Score       int
	ArtifactRef string
	RawResult   string
	CreatedAt   time.Time
}

// New builds a proof row from a scored submission.
func New(sessionID string, method Method, sub Submission, res Result) *Proof {
	return &Proof{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Method:      method,
		Accepted:    res.Accepted,
		Score:       res.Score,
		ArtifactRef: sub.ArtifactRef,
		RawResult:   sub.Raw(),
		CreatedAt:   time.Now().UTC(),
	}
}
