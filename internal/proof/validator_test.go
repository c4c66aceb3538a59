package proof

import (
	"errors"
	"strings"
	"testing"
)

func TestEvaluateScreenshot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		artifact string
		want     Result
	}{
		{name: "missing artifact", artifact: "", want: Result{}},
		{name: "blank artifact", artifact: "   ", want: Result{}},
		{name: "artifact present", artifact: "s3://proofs/abc.png", want: Result{Accepted: true, Score: 100}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(MethodScreenshot, Submission{ArtifactRef: tt.artifact})
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluateQuiz(t *testing.T) {
	t.Parallel()
	answers := func(correct, wrong int) []Answer {
		var out []Answer
		for i := 0; i < correct; i++ {
			out = append(out, Answer{Correct: true})
		}
		for i := 0; i < wrong; i++ {
			out = append(out, Answer{Correct: false})
		}
		return out
	}
	tests := []struct {
		name string
		ans  []Answer
		want Result
	}{
		{name: "no answers", ans: nil, want: Result{}},
		{name: "all correct", ans: answers(4, 0), want: Result{Accepted: true, Score: 100}},
		{name: "at threshold", ans: answers(7, 3), want: Result{Accepted: true, Score: 70}},
		{name: "below threshold", ans: answers(1, 2), want: Result{Accepted: false, Score: 33}},
		{name: "all wrong", ans: answers(0, 3), want: Result{Accepted: false, Score: 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(MethodQuiz, Submission{Answers: tt.ans})
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluateCheckin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want Result
	}{
		{name: "too short", text: strings.Repeat("a", 10), want: Result{}},
		{name: "exactly at limit", text: strings.Repeat("a", 20), want: Result{}},
		{name: "long enough", text: strings.Repeat("a", 25), want: Result{Accepted: true, Score: 90}},
		{name: "whitespace does not count", text: strings.Repeat(" ", 30) + "short", want: Result{}},
		{name: "multibyte counted as runes", text: strings.Repeat("ä", 21), want: Result{Accepted: true, Score: 90}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(MethodCheckin, Submission{Text: tt.text})
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluateUnknownMethod(t *testing.T) {
	t.Parallel()
	if _, err := Evaluate(Method("handstand"), Submission{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestParseMethod(t *testing.T) {
	t.Parallel()
	if m, err := ParseMethod(" Quiz "); err != nil || m != MethodQuiz {
		t.Fatalf("ParseMethod = %v, %v", m, err)
	}
	if _, err := ParseMethod("video"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
