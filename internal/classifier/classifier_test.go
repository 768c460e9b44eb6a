package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func chatServer(t *testing.T, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestReadyCredentialMissing(t *testing.T) {
	c := NewClient("", "some-model")
	if err := c.Ready(); !errors.Is(err, ErrCredentialMissing) {
		t.Errorf("Ready: err = %v, want ErrCredentialMissing", err)
	}
	if _, err := c.Classify(context.Background(), Request{Text: "x"}); !errors.Is(err, ErrCredentialMissing) {
		t.Errorf("Classify: err = %v, want ErrCredentialMissing", err)
	}
}

func TestClassifyParsesResult(t *testing.T) {
	content := `{"actions":[{"type":"createTask","data":{"title":"Buy milk"},"reasoning":"actionable"}],"thought_enhancement":{"should_apply":false}}`
	srv, _ := chatServer(t, content)

	c := NewClientWithBaseURL("test-key", "some-model", srv.URL)
	result, err := c.Classify(context.Background(), Request{Text: "need to buy milk"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if len(result.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(result.Actions))
	}
	if result.Actions[0].Type != "createTask" {
		t.Errorf("type = %q", result.Actions[0].Type)
	}
	if result.Actions[0].Reasoning != "actionable" {
		t.Errorf("reasoning = %q", result.Actions[0].Reasoning)
	}
	if result.Enhancement == nil || result.Enhancement.ShouldApply {
		t.Errorf("enhancement = %+v", result.Enhancement)
	}
	if !json.Valid(result.Raw) {
		t.Error("Raw is not valid JSON")
	}
}

func TestClassifyStripsMarkdownFence(t *testing.T) {
	content := "```json\n{\"actions\":[{\"type\":\"addTag\",\"data\":{\"tag\":\"work\"}}]}\n```"
	srv, _ := chatServer(t, content)

	c := NewClientWithBaseURL("test-key", "some-model", srv.URL)
	result, err := c.Classify(context.Background(), Request{Text: "x"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(result.Actions) != 1 || result.Actions[0].Type != "addTag" {
		t.Errorf("actions = %+v", result.Actions)
	}
}

func TestClassifyRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"actions\":[]}"}}]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClientWithBaseURL("test-key", "some-model", srv.URL)
	if _, err := c.Classify(context.Background(), Request{Text: "x"}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3 (2 rate-limited + 1 success)", got)
	}
}

func TestClassifyNoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClientWithBaseURL("test-key", "some-model", srv.URL)
	if _, err := c.Classify(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatal("expected error on 500")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (only rate limits retry)", got)
	}
}

func TestClassifyInvalidOutput(t *testing.T) {
	srv, _ := chatServer(t, "I think you should buy milk!")

	c := NewClientWithBaseURL("test-key", "some-model", srv.URL)
	if _, err := c.Classify(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatal("expected parse error for non-JSON content")
	}
}

func TestBuildPrompt(t *testing.T) {
	messages := BuildPrompt(Request{
		Text:             "need to buy milk",
		Tags:             []string{"errand", "home"},
		ToolDescriptions: "## Tasks\nCreate tasks.",
	})

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("first role = %q", messages[0].Role)
	}
	if !strings.Contains(messages[0].Content, "## Tasks") {
		t.Error("system prompt missing tool descriptions")
	}
	if !strings.Contains(messages[1].Content, "need to buy milk") {
		t.Error("user message missing thought text")
	}
	if !strings.Contains(messages[1].Content, "errand, home") {
		t.Error("user message missing existing tags")
	}
}

func TestParseResultVariants(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"bare object", `{"actions":[]}`, false},
		{"json fence", "```json\n{\"actions\":[]}\n```", false},
		{"plain fence", "```\n{\"actions\":[]}\n```", false},
		{"surrounding whitespace", "  \n{\"actions\":[]}\n  ", false},
		{"prose", "here you go", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseResult(tc.content)
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
