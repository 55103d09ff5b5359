package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/openai/openai-go"

	"github.com/pressfeed/newspipe/internal/models"
)

func TestClassify_TooManyRequests(t *testing.T) {
	err := Classify(&openai.Error{StatusCode: http.StatusTooManyRequests, Message: "Rate limit reached"})
	if models.KindOf(err) != models.ErrorKindTooManyRequests {
		t.Errorf("Expected too_many_requests, got %v", models.KindOf(err))
	}
}

func TestClassify_ContextLengthExceeded(t *testing.T) {
	err := Classify(&openai.Error{StatusCode: http.StatusBadRequest, Code: "context_length_exceeded", Message: "too long"})
	if models.KindOf(err) != models.ErrorKindMaxTokenExceeded {
		t.Errorf("Expected exceeded_max_token, got %v", models.KindOf(err))
	}
}

func TestClassify_GenericAPIError(t *testing.T) {
	err := Classify(&openai.Error{StatusCode: http.StatusInternalServerError, Message: "server error"})
	if models.KindOf(err) != models.ErrorKindGeneric {
		t.Errorf("Expected generic, got %v", models.KindOf(err))
	}
}

func TestClassify_WrappedTransportErrors(t *testing.T) {
	cases := []struct {
		err  error
		want models.ErrorKind
	}{
		{fmt.Errorf("call failed: %w", errors.New("You exceeded your current quota")), models.ErrorKindTooManyRequests},
		{errors.New("This model's maximum context length is 128000 tokens"), models.ErrorKindMaxTokenExceeded},
		{errors.New("connection refused"), models.ErrorKindGeneric},
	}
	for _, tc := range cases {
		if got := models.KindOf(Classify(tc.err)); got != tc.want {
			t.Errorf("Classify(%q): expected %v, got %v", tc.err, tc.want, got)
		}
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Error("Expected error for empty API key")
	}
}
