package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandler(t *testing.T) {
	h := SPAHandler()

	tests := []struct {
		path     string
		code     int
		contains string
	}{
		{"/", http.StatusOK, "<title>voxrelay</title>"},
		{"/app.js", http.StatusOK, "BARGE_IN_MS"},
		{"/calls/123", http.StatusOK, "<title>voxrelay</title>"},
		{"/api/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Fatalf("body missing %q", tt.contains)
			}
		})
	}
}

func TestBargeInTimerResets(t *testing.T) {
	rec := httptest.NewRecorder()
	SPAHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	js := rec.Body.String()

	// A final result below the threshold must not carry its onset into the
	// next utterance, and recognition boundaries clear it too.
	for _, want := range []string{
		"if (result.isFinal) speechStartedAt = 0;",
		"r.onspeechend = function () {\n      speechStartedAt = 0;",
		"r.onend = function () {\n      speechStartedAt = 0;",
	} {
		if !strings.Contains(js, want) {
			t.Fatalf("app.js missing %q", want)
		}
	}
}
