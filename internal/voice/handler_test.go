package voice

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voxrelay/internal/config"
	"github.com/ashureev/voxrelay/internal/conversation"
	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/events"
	"github.com/ashureev/voxrelay/internal/speech"
	"github.com/ashureev/voxrelay/internal/store"
	"github.com/ashureev/voxrelay/internal/twiml"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []domain.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "reply to " + msgs[len(msgs)-1].Content, nil
}

func (f *fakeCompleter) Model() string    { return "fake-model" }
func (f *fakeCompleter) Provider() string { return "fake" }

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynth struct {
	err error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

func (f *fakeSynth) Name() string { return "fake-tts" }

type copyTranscoder struct{}

func (copyTranscoder) Transcode(src []byte, dst io.WriteSeeker) error {
	_, err := dst.Write(append([]byte("RIFF"), src...))
	return err
}

type fixture struct {
	router    chi.Router
	completer *fakeCompleter
	synth     *fakeSynth
	store     *store.MemoryStore
	journal   *events.FileJournal
	audioDir  string
	prompts   config.Prompts
}

func newFixture(t *testing.T, mw ...func(http.Handler) http.Handler) *fixture {
	t.Helper()
	return newFixtureWithPrompts(t, config.DefaultPrompts(), mw...)
}

func newFixtureWithPrompts(t *testing.T, prompts config.Prompts, mw ...func(http.Handler) http.Handler) *fixture {
	t.Helper()

	f := &fixture{
		completer: &fakeCompleter{},
		synth:     &fakeSynth{},
		store:     store.NewMemory(),
		audioDir:  t.TempDir(),
		prompts:   prompts,
	}

	journal, err := events.NewFileJournal(events.Config{RecentSize: 100}, nil)
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	f.journal = journal

	mat, err := speech.NewMaterializer(f.synth, copyTranscoder{}, f.audioDir, nil)
	if err != nil {
		t.Fatalf("NewMaterializer: %v", err)
	}

	proc := conversation.NewProcessor(f.store, f.completer, conversation.Options{
		SystemPrompt: f.prompts.SystemPrompt,
		HistoryLimit: 10,
	})

	h := NewHandler(Deps{
		Processor:     proc,
		Speaker:       mat,
		Markup:        twiml.NewBuilder("alice"),
		Prompts:       f.prompts,
		Journal:       journal,
		PublicBaseURL: "https://relay.example.com/",
	})

	r := chi.NewRouter()
	h.RegisterRoutes(r, mw...)
	f.router = r
	return f
}

type response struct {
	XMLName xml.Name `xml:"Response"`
	Say     []struct {
		Text  string `xml:",chardata"`
		Voice string `xml:"voice,attr"`
	} `xml:"Say"`
	Play   []string `xml:"Play"`
	Gather []struct {
		Input  string `xml:"input,attr"`
		Action string `xml:"action,attr"`
	} `xml:"Gather"`
	Hangup []struct{} `xml:"Hangup"`
}

func (f *fixture) post(t *testing.T, target string, form url.Values) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var doc response
	if rec.Code == http.StatusOK {
		if err := xml.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatalf("parse markup %q: %v", rec.Body.String(), err)
		}
		if len(doc.Gather) != 1 || doc.Gather[0].Input != "speech" {
			t.Fatalf("expected one speech gather, got %s", rec.Body.String())
		}
		if len(doc.Hangup) != 0 {
			t.Fatalf("unexpected hangup in %s", rec.Body.String())
		}
	}
	return rec, doc
}

func (f *fixture) steps(eventType string) []string {
	var out []string
	for _, e := range f.journal.Recent(0) {
		if e.EventType == eventType {
			out = append(out, e.Step)
		}
	}
	return out
}

func TestIncomingGreetsAndSeeds(t *testing.T) {
	f := newFixture(t)

	rec, doc := f.post(t, "/api/voice/incoming", url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if len(doc.Say) != 1 || doc.Say[0].Text != f.prompts.Greeting || doc.Say[0].Voice != "alice" {
		t.Fatalf("unexpected greeting %+v", doc.Say)
	}
	if doc.Gather[0].Action != "/api/voice/process?call_sid=CA1" {
		t.Fatalf("unexpected action %q", doc.Gather[0].Action)
	}

	history, err := f.store.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(history) != 1 || history[0].Role != domain.RoleSystem {
		t.Fatalf("expected seeded history, got %+v", history)
	}
	if got := f.steps(events.TypeCallIncoming); len(got) != 1 {
		t.Fatalf("expected one call_incoming event, got %v", got)
	}
}

func TestIncomingRequiresCallSid(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.post(t, "/api/voice/incoming", url.Values{"From": {"+1"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProcessEmptyUtteranceReprompts(t *testing.T) {
	f := newFixture(t)

	rec, doc := f.post(t, "/api/voice/process?call_sid=CA1", url.Values{"SpeechResult": {"   "}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(doc.Say) != 1 || doc.Say[0].Text != f.prompts.Reprompt {
		t.Fatalf("expected reprompt, got %+v", doc.Say)
	}
	if len(doc.Play) != 0 {
		t.Fatal("unexpected play")
	}
	if f.completer.Calls() != 0 {
		t.Fatal("completion must not be called for an empty utterance")
	}
	if got := f.steps(events.TypeSTT); len(got) != 1 || got[0] != "no_speech" {
		t.Fatalf("unexpected stt events %v", got)
	}
}

func TestProcessEmptyUtteranceSilentGather(t *testing.T) {
	prompts := config.DefaultPrompts()
	prompts.Reprompt = ""
	f := newFixtureWithPrompts(t, prompts)

	rec, doc := f.post(t, "/api/voice/process?call_sid=CA1", url.Values{"SpeechResult": {""}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(doc.Say) != 0 || len(doc.Play) != 0 {
		t.Fatalf("expected a bare gather, got %s", rec.Body.String())
	}
	if doc.Gather[0].Action != "/api/voice/process?call_sid=CA1" {
		t.Fatalf("unexpected action %q", doc.Gather[0].Action)
	}
	if f.completer.Calls() != 0 {
		t.Fatal("completion must not be called for an empty utterance")
	}
}

func TestProcessPlaysSynthesizedReply(t *testing.T) {
	f := newFixture(t)

	rec, doc := f.post(t, "/api/voice/process?call_sid=CA1", url.Values{"SpeechResult": {"Hello"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(doc.Say) != 0 || len(doc.Play) != 1 {
		t.Fatalf("expected a single play, got %s", rec.Body.String())
	}

	playURL := doc.Play[0]
	prefix := "https://relay.example.com" + AudioPath
	if !strings.HasPrefix(playURL, prefix) {
		t.Fatalf("unexpected audio url %q", playURL)
	}
	name := strings.TrimPrefix(playURL, prefix)
	if _, err := os.Stat(filepath.Join(f.audioDir, name)); err != nil {
		t.Fatalf("audio file must exist before it is referenced: %v", err)
	}

	history, err := f.store.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(history) != 3 || history[2].Content != "reply to Hello" {
		t.Fatalf("unexpected history %+v", history)
	}

	for _, typ := range []string{events.TypeSTT, events.TypeLLM, events.TypeTTS, events.TypeSpeechProcessing} {
		if len(f.steps(typ)) == 0 {
			t.Fatalf("missing %s event", typ)
		}
	}

	audio := httptest.NewRecorder()
	f.router.ServeHTTP(audio, httptest.NewRequest(http.MethodGet, AudioPath+name, nil))
	if audio.Code != http.StatusOK {
		t.Fatalf("expected audio 200, got %d", audio.Code)
	}
	if ct := audio.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected audio content type %q", ct)
	}
	if audio.Body.String() != "RIFFmp3:reply to Hello" {
		t.Fatalf("unexpected audio body %q", audio.Body.String())
	}
}

func TestProcessFallsBackToFormCallSid(t *testing.T) {
	f := newFixture(t)

	rec, doc := f.post(t, "/api/voice/process", url.Values{"CallSid": {"CA9"}, "SpeechResult": {"hi"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if doc.Gather[0].Action != "/api/voice/process?call_sid=CA9" {
		t.Fatalf("unexpected action %q", doc.Gather[0].Action)
	}
	if _, err := f.store.Get(context.Background(), "CA9"); err != nil {
		t.Fatalf("expected conversation for CA9: %v", err)
	}
}

func TestProcessMissingCallSid(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.post(t, "/api/voice/process", url.Values{"SpeechResult": {"hi"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec, _ = f.post(t, "/api/voice/process?call_sid=..%2Fetc", url.Values{"SpeechResult": {"hi"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed call sid, got %d", rec.Code)
	}
}

func TestProcessCompletionFailureApologizes(t *testing.T) {
	f := newFixture(t)
	f.completer.err = &domain.CompletionError{Provider: "fake", Cause: errors.New("boom")}

	rec, doc := f.post(t, "/api/voice/process?call_sid=CA1", url.Values{"SpeechResult": {"Hello"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(doc.Say) != 1 || doc.Say[0].Text != f.prompts.Apology {
		t.Fatalf("expected apology, got %+v", doc.Say)
	}
	if len(doc.Play) != 0 {
		t.Fatal("apology must not play audio")
	}

	entries, err := os.ReadDir(f.audioDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no audio files, got %d", len(entries))
	}

	history, err := f.store.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("failed turn must not be recorded, got %+v", history)
	}
}

func TestProcessSynthesisFailureSpeaksReply(t *testing.T) {
	f := newFixture(t)
	f.synth.err = errors.New("tts down")

	rec, doc := f.post(t, "/api/voice/process?call_sid=CA1", url.Values{"SpeechResult": {"Hello"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(doc.Play) != 0 {
		t.Fatal("unexpected play after synthesis failure")
	}
	if len(doc.Say) != 1 || doc.Say[0].Text != "reply to Hello" {
		t.Fatalf("expected reply spoken with built-in speech, got %+v", doc.Say)
	}

	history, err := f.store.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("turn must be recorded even when synthesis fails, got %d messages", len(history))
	}
}

func TestAudioNotFound(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"missing.wav", "..%2Fsecret.wav", "notes.txt"} {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, AudioPath+name, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", name, rec.Code)
		}
	}
}

func TestExternalOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Host = "internal:7860"
	if got := externalOrigin(req, ""); got != "http://internal:7860" {
		t.Fatalf("unexpected origin %q", got)
	}

	req.Header.Set("X-Forwarded-Proto", "https, http")
	req.Header.Set("X-Forwarded-Host", "abc.ngrok.app")
	if got := externalOrigin(req, ""); got != "https://abc.ngrok.app" {
		t.Fatalf("unexpected origin %q", got)
	}

	if got := externalOrigin(req, "https://public.example"); got != "https://public.example" {
		t.Fatalf("unexpected origin %q", got)
	}
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureMiddleware(t *testing.T) {
	const token = "0123456789abcdef0123456789abcdef"
	const base = "https://relay.example.com"
	f := newFixture(t, SignatureMiddleware(func() string { return token }, base, nil))

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}}

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/voice/incoming", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(""); code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", code)
	}
	if code := send("bogus"); code != http.StatusForbidden {
		t.Fatalf("expected 403 with bad signature, got %d", code)
	}
	if code := send(sign(token, base+"/api/voice/incoming", form)); code != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d", code)
	}

	audio := httptest.NewRecorder()
	f.router.ServeHTTP(audio, httptest.NewRequest(http.MethodGet, AudioPath+"missing.wav", nil))
	if audio.Code != http.StatusNotFound {
		t.Fatalf("audio route must not require a signature, got %d", audio.Code)
	}
}
