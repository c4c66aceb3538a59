package proof

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Reference thresholds. These match the original product's scoring and are
// deliberately simple; proof quality beyond these checks is out of scope.
const (
	screenshotScore  = 100
	quizPassScore    = 70
	checkinPassScore = 90
	checkinMinChars  = 20
)

// Answer is one quiz answer as reported by the client.
type Answer struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
}

// Submission is the method-specific payload of one proof attempt.
// Only the fields for the submitted method are meaningful.
type Submission struct {
	ArtifactRef string   `json:"artifactRef,omitempty"` // screenshot
	Answers     []Answer `json:"answers,omitempty"`     // quiz
	Text        string   `json:"text,omitempty"`        // checkin
}

// Raw returns the submission serialized for the audit trail.
func (s Submission) Raw() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}

// Result is the validator outcome. A rejection is a normal outcome, not an
// error.
type Result struct {
	Accepted bool `json:"accepted"`
	Score    int  `json:"score"`
}

// Evaluate scores a submission. It is side-effect free: persisting the
// attempt and unlocking the session are the caller's job.
func Evaluate(method Method, sub Submission) (Result, error) {
	switch method {
	case MethodScreenshot:
		return evalScreenshot(sub), nil
	case MethodQuiz:
		return evalQuiz(sub), nil
	case MethodCheckin:
		return evalCheckin(sub), nil
	}
	return Result{}, fmt.Errorf("%w: unknown method %q", ErrValidation, method)
}

func evalScreenshot(sub Submission) Result {
	if strings.TrimSpace(sub.ArtifactRef) == "" {
		return Result{}
	}
	return Result{Accepted: true, Score: screenshotScore}
}

func evalQuiz(sub Submission) Result {
	if len(sub.Answers) == 0 {
		return Result{}
	}
	correct := 0
	for _, a := range sub.Answers {
		if a.Correct {
			correct++
		}
	}
	score := correct * 100 / len(sub.Answers)
	return Result{Accepted: score >= quizPassScore, Score: score}
}

func evalCheckin(sub Submission) Result {
	if utf8.RuneCountInString(strings.TrimSpace(sub.Text)) <= checkinMinChars {
		return Result{}
	}
	return Result{Accepted: true, Score: checkinPassScore}
}
