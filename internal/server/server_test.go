package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cryptolaw-rag/internal/indexer"
	"cryptolaw-rag/internal/models"
	"cryptolaw-rag/internal/persona"
	"cryptolaw-rag/internal/rag"
	"cryptolaw-rag/internal/suggest"
)

type fakeResponder struct {
	err         error
	messages    []models.ChatMessage
	personality string
	calls       int
}

func (f *fakeResponder) Respond(ctx context.Context, messages []models.ChatMessage, personality string) (rag.Answer, error) {
	f.calls++
	f.messages = messages
	f.personality = personality
	if f.err != nil {
		return rag.Answer{}, f.err
	}
	return rag.Answer{Content: "A VASP<sup>1</sup> is ...<br>1: Pg.4", Persona: persona.Dandy}, nil
}

type fakeComposer struct {
	answers []string
}

func (f *fakeComposer) Compose(ctx context.Context, answer string) models.Suggestions {
	f.answers = append(f.answers, answer)
	return models.Suggestions{
		Suggestions:  []string{"🪙 One?", "🏦 Two?", "📜 Three?", "⚖️ Four?"},
		Requirements: []string{"Tokenomics Study"},
	}
}

type fakeIndex struct {
	err   error
	calls int
}

func (f *fakeIndex) EnsureFresh(ctx context.Context) (indexer.Result, error) {
	f.calls++
	return indexer.Result{Version: "abc123", Chunks: 7}, f.err
}

func (f *fakeIndex) Version() string { return "abc123" }
func (f *fakeIndex) Count() int      { return 7 }

type fixture struct {
	responder *fakeResponder
	composer  *fakeComposer
	index     *fakeIndex
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{responder: &fakeResponder{}, composer: &fakeComposer{}, index: &fakeIndex{}}
	s, err := New(f.responder, f.composer, f.index, f.index, persona.NewRegistry(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) postChat(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/sendChat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /sendChat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSendChatStreamsTwoEvents(t *testing.T) {
	f := newFixture(t)
	resp := f.postChat(t, `{"messages":[{"role":"user","content":"Hi"},{"role":"assistant","content":"Hello"},{"role":"user","content":"What is a VASP?"}],"personality":"Dandy"}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}

	if !strings.Contains(lines[0], `"content":"A VASP<sup>1</sup> is ...<br>1: Pg.4"`) {
		t.Fatalf("answer markup must be written unescaped: %s", lines[0])
	}

	var first models.ResponseEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line: %v", err)
	}
	if first.Type != "response" || first.Content != "A VASP<sup>1</sup> is ...<br>1: Pg.4" {
		t.Fatalf("unexpected first event %+v", first)
	}

	var second models.SuggestionsEvent
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("second line: %v", err)
	}
	if second.Type != "suggestions" || len(second.Content) != 4 || len(second.Requirements) != 1 {
		t.Fatalf("unexpected second event %+v", second)
	}

	if f.responder.personality != "Dandy" || len(f.responder.messages) != 3 {
		t.Fatalf("responder got %q with %d messages", f.responder.personality, len(f.responder.messages))
	}
	if len(f.composer.answers) != 1 || f.composer.answers[0] != first.Content {
		t.Fatalf("composer should see the streamed answer, got %q", f.composer.answers)
	}
}

func TestSendChatBadRequests(t *testing.T) {
	for name, body := range map[string]string{
		"missing messages":    `{"personality":"dandy"}`,
		"null messages":       `{"messages":null,"personality":"dandy"}`,
		"missing personality": `{"messages":[{"role":"user","content":"Hi"}]}`,
		"null personality":    `{"messages":[],"personality":null}`,
		"not json":            `messages=hi`,
		"wrong type":          `{"messages":"hi","personality":"dandy"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.postChat(t, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if f.responder.calls != 0 {
				t.Fatal("responder must not be called")
			}
		})
	}
}

func TestSendChatEmptyMessages(t *testing.T) {
	f := newFixture(t)
	resp := f.postChat(t, `{"messages":[],"personality":""}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.responder.calls != 1 || f.responder.personality != "" {
		t.Fatalf("unexpected responder call %+v", f.responder)
	}
}

func TestSendChatUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.responder.err = errors.New("503 from model")
	resp := f.postChat(t, `{"messages":[{"role":"user","content":"?"}],"personality":"veri"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if len(f.composer.answers) != 0 {
		t.Fatal("composer must not run after a responder failure")
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "503 from model") {
		t.Fatalf("upstream error leaked to client: %s", body)
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.index.calls != 1 {
		t.Fatalf("expected one freshness check, got %d", f.index.calls)
	}
	for _, want := range []string{`<option value="veri">Veri</option>`, `<option value="dandy">Dandy</option>`, "<strong>FCA</strong>", "/sendChat"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("page missing %q", want)
		}
	}
}

func TestIndexPageServesWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.index.err = errors.New("embedding quota exceeded")
	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health.Status != "ok" || health.Version != "abc123" || health.Chunks != 7 {
		t.Fatalf("unexpected health %+v", health)
	}

	resp, err = http.Get(f.srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(f.srv.URL + "/sendChat")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestRoundTripWithRealComposerDefaults(t *testing.T) {
	responder := &fakeResponder{}
	composer := suggest.NewComposer(failingModel{}, 0.2)
	s, err := New(responder, composer, &fakeIndex{}, &fakeIndex{}, persona.NewRegistry(nil))
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sendChat", strings.NewReader(`{"messages":[{"role":"user","content":"?"}],"personality":"veri"}`))
	s.Handler().ServeHTTP(rec, req)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", rec.Body.String())
	}
	var ev models.SuggestionsEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatal(err)
	}
	if strings.Join(ev.Content, "|") != strings.Join(models.DefaultSuggestions, "|") || ev.Requirements == nil || len(ev.Requirements) != 0 {
		t.Fatalf("expected default suggestions, got %+v", ev)
	}
	if !strings.Contains(lines[1], `"requirements":[]`) {
		t.Fatalf("requirements must serialize as an empty array: %s", lines[1])
	}
}
