package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/computersciencehouse/quickpoll/auth"
	"github.com/computersciencehouse/quickpoll/database"
	"github.com/computersciencehouse/quickpoll/polls"
	"github.com/computersciencehouse/quickpoll/sse"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const userHeader = "X-Test-User"

// headerAuth trusts a plain request header in place of an OIDC session.
type headerAuth struct{}

func (headerAuth) Register(gin.IRouter) {}

func (headerAuth) Wrap(h gin.HandlerFunc) gin.HandlerFunc { return h }

func (headerAuth) Identity(c *gin.Context) (auth.Identity, bool) {
	user := c.GetHeader(userHeader)
	return auth.Identity{Id: user, Name: "User " + user}, user != ""
}

type testServer struct {
	*Server
	engine *polls.Engine
}

func newTestServer(t *testing.T, store database.Store) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	broker := sse.NewBroker()
	go broker.Listen(ctx)
	t.Cleanup(cancel)

	engine := polls.NewEngine(store, NewPublisher(store, broker))
	s, err := New(engine, store, headerAuth{}, broker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testServer{Server: s, engine: engine}
}

func newSQLiteServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := database.OpenSQL(ctx, "sqlite", filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })
	return newTestServer(t, store)
}

func (s *testServer) do(method, path, user string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func (s *testServer) createPoll(t *testing.T, question string, options ...string) polls.View {
	t.Helper()

	w := s.do(http.MethodPost, "/create", "alice", url.Values{"question": {question}, "option": options})
	assertStatus(t, w, http.StatusFound)

	views, err := s.engine.ListPolls(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListPolls: %v", err)
	}
	for _, v := range views {
		if v.Question == question {
			return v
		}
	}
	t.Fatalf("poll %q not found after creation", question)
	return polls.View{}
}

func (s *testServer) results(t *testing.T, pollId, user string) polls.View {
	t.Helper()

	w := s.do(http.MethodGet, "/results/"+pollId, user, nil)
	assertStatus(t, w, http.StatusOK)

	var view polls.View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	return view
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := newSQLiteServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assertStatus(t, w, http.StatusOK)
	if w.Body.String() != "OK" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestIndex_LoginPromptWithoutSession(t *testing.T) {
	s := newSQLiteServer(t)
	s.createPoll(t, "Secret lunch plans?", "Pizza", "Tacos")

	w := s.do(http.MethodGet, "/", "", nil)
	assertStatus(t, w, http.StatusOK)

	body := w.Body.String()
	if !strings.Contains(body, "Please log in to view and vote on polls.") {
		t.Error("expected login prompt")
	}
	if strings.Contains(body, "Secret lunch plans?") {
		t.Error("poll data shown to an anonymous viewer")
	}
}

func TestIndex_ListsPollsNewestFirst(t *testing.T) {
	s := newSQLiteServer(t)
	s.createPoll(t, "First poll?", "A", "B")
	s.createPoll(t, "Second poll?", "C", "D")

	w := s.do(http.MethodGet, "/", "bob", nil)
	assertStatus(t, w, http.StatusOK)

	body := w.Body.String()
	first, second := strings.Index(body, "First poll?"), strings.Index(body, "Second poll?")
	if first < 0 || second < 0 {
		t.Fatalf("expected both polls in listing: %s", body)
	}
	if second > first {
		t.Error("expected the newest poll first")
	}
	if !strings.Contains(body, "Posted by User alice") {
		t.Error("expected author name")
	}
}

func TestCreatePoll_ValidationErrors(t *testing.T) {
	s := newSQLiteServer(t)

	w := s.do(http.MethodPost, "/create", "alice", url.Values{
		"question": {"  ab  "},
		"option":   {"Pizza", "   ", ""},
	})
	assertStatus(t, w, http.StatusUnprocessableEntity)

	body := w.Body.String()
	for _, msg := range []string{"Question must be at least 3 characters long.", "Must have at least 2 options."} {
		if !strings.Contains(body, msg) {
			t.Errorf("expected %q in body", msg)
		}
	}

	views, err := s.engine.ListPolls(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListPolls: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected nothing persisted, got %d polls", len(views))
	}
}

func TestCreatePoll_Unauthenticated(t *testing.T) {
	s := newSQLiteServer(t)

	w := s.do(http.MethodPost, "/create", "", url.Values{"question": {"Lunch?"}, "option": {"A", "B"}})
	assertStatus(t, w, http.StatusUnauthorized)
	if !strings.Contains(w.Body.String(), "You must be logged in to create a poll.") {
		t.Error("expected form-level login error")
	}
}

func TestSubmitVote_ChangesVoteInPlace(t *testing.T) {
	s := newSQLiteServer(t)
	poll := s.createPoll(t, "Tabs or spaces?", "Tabs", "Spaces")
	tabs, spaces := poll.Options[0].Id, poll.Options[1].Id

	w := s.do(http.MethodPost, "/vote", "bob", url.Values{"pollId": {poll.Id}, "optionId": {tabs}})
	assertStatus(t, w, http.StatusSeeOther)
	if loc := w.Header().Get("Location"); loc != "/#poll-"+poll.Id {
		t.Errorf("unexpected redirect %q", loc)
	}

	w = s.do(http.MethodPost, "/vote", "bob", url.Values{"pollId": {poll.Id}, "optionId": {spaces}})
	assertStatus(t, w, http.StatusSeeOther)

	view := s.results(t, poll.Id, "bob")
	if view.TotalVotes != 1 {
		t.Fatalf("expected one vote, got %d", view.TotalVotes)
	}
	if view.ViewerVote != spaces || !view.Options[1].Selected {
		t.Errorf("expected Spaces selected: %+v", view)
	}
	if view.Options[1].Percent != 100 || view.Options[0].Percent != 0 {
		t.Errorf("unexpected percentages: %+v", view.Options)
	}

	other := s.results(t, poll.Id, "carol")
	if other.ViewerVote != "" {
		t.Errorf("carol should not see bob's vote as her own")
	}
}

func TestSubmitVote_Rejections(t *testing.T) {
	s := newSQLiteServer(t)
	poll := s.createPoll(t, "Lunch?", "Pizza", "Tacos")
	other := s.createPoll(t, "Dinner?", "Soup", "Salad")

	tests := []struct {
		name   string
		user   string
		form   url.Values
		status int
	}{
		{"unauthenticated", "", url.Values{"pollId": {poll.Id}, "optionId": {poll.Options[0].Id}}, http.StatusUnauthorized},
		{"missing option", "bob", url.Values{"pollId": {poll.Id}}, http.StatusBadRequest},
		{"missing poll", "bob", url.Values{"optionId": {poll.Options[0].Id}}, http.StatusBadRequest},
		{"unknown poll", "bob", url.Values{"pollId": {"nope"}, "optionId": {"nope"}}, http.StatusBadRequest},
		{"option from another poll", "bob", url.Values{"pollId": {poll.Id}, "optionId": {other.Options[0].Id}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/vote", tt.user, tt.form)
			assertStatus(t, w, tt.status)
		})
	}

	for _, id := range []string{poll.Id, other.Id} {
		if view := s.results(t, id, "bob"); view.TotalVotes != 0 {
			t.Errorf("%s: expected no votes, got %d", view.Question, view.TotalVotes)
		}
	}
}

// failingStore accepts users and fails every poll operation.
type failingStore struct{ database.Store }

var errDisk = errors.New("disk I/O error: /var/lib/postgres")

func (failingStore) UpsertUser(context.Context, database.User) error { return nil }
func (failingStore) CreatePoll(context.Context, database.NewPoll) (string, error) {
	return "", errDisk
}
func (failingStore) CastVote(context.Context, database.Vote) (database.UpsertResult, error) {
	return database.New, errDisk
}

func TestStoreFailuresStayGeneric(t *testing.T) {
	s := newTestServer(t, failingStore{})

	w := s.do(http.MethodPost, "/vote", "bob", url.Values{"pollId": {"p1"}, "optionId": {"o1"}})
	assertStatus(t, w, http.StatusInternalServerError)
	if !strings.Contains(w.Body.String(), "Database Error: Failed to submit vote.") {
		t.Errorf("expected generic vote error, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "/var/lib/postgres") {
		t.Error("store cause leaked to the client")
	}

	w = s.do(http.MethodPost, "/create", "bob", url.Values{"question": {"Lunch?"}, "option": {"A", "B"}})
	assertStatus(t, w, http.StatusInternalServerError)
	if !strings.Contains(w.Body.String(), "Database Error: Failed to create poll.") {
		t.Errorf("expected generic create error, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "/var/lib/postgres") {
		t.Error("store cause leaked to the client")
	}
}

func TestResults_UnknownPoll(t *testing.T) {
	s := newSQLiteServer(t)

	w := s.do(http.MethodGet, "/results/nope", "bob", nil)
	assertStatus(t, w, http.StatusBadRequest)
}
