package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/console/consoletest"
	"github.com/faqbot/console/internal/content"
	"github.com/faqbot/console/internal/models"
	"github.com/faqbot/console/internal/session"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// env outlives single invocations the way the token store and the content
// database outlive faqctl processes.
type env struct {
	fake   *consoletest.Backend
	tokens session.TokenStore
	repo   content.Repository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		fake:   consoletest.New(t),
		tokens: session.NewMemoryStore(),
		repo:   content.NewMemoryRepository(),
	}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func() (*console.Console, error) {
		return console.New(console.Deps{
			Client:            e.fake.Client(),
			Tokens:            e.tokens,
			Content:           e.repo,
			MaxQuestionLength: 500,
			TopQuestions:      10,
			TrendDays:         30,
		}), nil
	})
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return strings.TrimSpace(buf.String()), err
}

func (e *env) login(t *testing.T) {
	t.Helper()
	_, err := e.run(t, "login", "--email", consoletest.Email, "--password", consoletest.Password)
	require.NoError(t, err)
}

func TestVersion(t *testing.T) {
	out, err := newEnv(t).run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "faqctl "+version, out)
}

func TestWhoamiSignedOut(t *testing.T) {
	out, err := newEnv(t).run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in")
}

func TestLoginPersistsAcrossInvocations(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "login", "--email", consoletest.Email, "--password", consoletest.Password)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as "+consoletest.Email)

	out, err = e.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Email:        "+consoletest.Email)
	assert.Contains(t, out, "Admissions Office")
}

func TestLoginPromptsForPassword(t *testing.T) {
	e := newEnv(t)
	root := NewRootCommand(func() (*console.Console, error) {
		return console.New(console.Deps{Client: e.fake.Client(), Tokens: e.tokens, Content: e.repo}), nil
	})
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(consoletest.Password + "\n"))
	root.SetArgs([]string{"login", "--email", consoletest.Email})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "Password: ")
	assert.Contains(t, buf.String(), "Signed in")
}

func TestLoginWrongPassword(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "login", "--email", consoletest.Email, "--password", "nope")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	out, err := e.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in")
}

func TestLogoutForgetsToken(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	_, err := e.run(t, "logout")
	require.NoError(t, err)

	_, err = e.run(t, "bots", "list")
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.Zero(t, e.fake.Calls("GET /bots/{$}"))
}

func TestBotsCreateAndList(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	out, err := e.run(t, "bots", "create", "--name", "Campus FAQ", "--url", "https://uni.edu")
	require.NoError(t, err)
	assert.Contains(t, out, "Created bot 1 (Campus FAQ), status training")

	out, err = e.run(t, "bots", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Campus FAQ")
	assert.Contains(t, out, "training")
	assert.Contains(t, out, "telegram")

	out, err = e.run(t, "bots", "list", "--json")
	require.NoError(t, err)
	var bots []models.Bot
	require.NoError(t, json.Unmarshal([]byte(out), &bots))
	require.Len(t, bots, 1)
	assert.Equal(t, models.LanguageEnglish, bots[0].Language)
}

func TestBotsCreateRejectsBadURL(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	_, err := e.run(t, "bots", "create", "--name", "Campus FAQ", "--url", "uni.edu")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, e.fake.Calls("POST /bots/{$}"))
}

func TestBotsLifecycle(t *testing.T) {
	e := newEnv(t)
	id := e.fake.AddBot("Campus FAQ", models.StatusActive)
	e.login(t)

	out, err := e.run(t, "bots", "deactivate", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "is now inactive")

	_, err = e.run(t, "bots", "retrain", "1")
	assert.ErrorIs(t, err, apperr.ErrPrecondition)

	_, err = e.run(t, "bots", "activate", "1")
	require.NoError(t, err)

	out, err = e.run(t, "bots", "update", "1", "--name", "Campus Help")
	require.NoError(t, err)
	assert.Contains(t, out, "Campus Help (#1)")

	out, err = e.run(t, "bots", "retrain", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "status training")

	_, err = e.run(t, "bots", "delete", "1")
	require.NoError(t, err)

	_, err = e.run(t, "bots", "get", "1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotZero(t, id)
}

func TestAsk(t *testing.T) {
	e := newEnv(t)
	id := e.fake.AddBot("Campus FAQ", models.StatusActive)
	e.fake.SetAnswer(id, models.QueryResult{Answer: "Term starts in August.", Confidence: 0.92, SourceURL: "https://uni.edu/dates"})
	e.login(t)

	out, err := e.run(t, "ask", "1", "When", "does", "term", "start?")
	require.NoError(t, err)
	assert.Contains(t, out, "Term starts in August.")
	assert.Contains(t, out, "Confidence: 92%")
	assert.Contains(t, out, "Source: https://uni.edu/dates")
}

func TestAskUnknownBot(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	_, err := e.run(t, "ask", "7", "Hello?")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, e.fake.Calls("POST /bots/{id}/query"))
}

func TestContentCommands(t *testing.T) {
	e := newEnv(t)
	e.fake.AddBot("Campus FAQ", models.StatusActive)
	e.login(t)

	_, err := e.run(t, "content", "add", "1", "--question", "Where is the library?", "--answer", "North campus.")
	require.NoError(t, err)
	_, err = e.run(t, "content", "add", "1", "--question", "When is lunch?", "--answer", "Noon.")
	require.NoError(t, err)

	out, err := e.run(t, "content", "list", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Where is the library?")
	assert.Contains(t, out, "100%")

	out, err = e.run(t, "content", "search", "1", "lunch")
	require.NoError(t, err)
	assert.Contains(t, out, "When is lunch?")
	assert.NotContains(t, out, "library")

	out, err = e.run(t, "content", "remove", "1", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `Removed "Where is the library?"`)

	out, err = e.run(t, "content", "list", "1", "--json")
	require.NoError(t, err)
	var matches []models.Match
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].Position)
	assert.Equal(t, "When is lunch?", matches[0].Pair.Question)

	_, err = e.run(t, "content", "remove", "1", "5")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestContentAddRejectsBlankPairOffline(t *testing.T) {
	e := newEnv(t)
	e.fake.AddBot("Campus FAQ", models.StatusActive)
	e.login(t)

	_, err := e.run(t, "content", "add", "1", "--question", " ", "--answer", "North campus.")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	file := filepath.Join(t.TempDir(), "pairs.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"question": "Parking?", "answer": "Lot B.", "confidence": 2}]`), 0o600))
	_, err = e.run(t, "content", "import", "1", "--file", file)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.run(t, "ask", "1", " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, e.fake.Calls("GET /bots/{$}"))
}

func TestContentImport(t *testing.T) {
	e := newEnv(t)
	e.fake.AddBot("Campus FAQ", models.StatusActive)
	e.login(t)

	file := filepath.Join(t.TempDir(), "pairs.json")
	require.NoError(t, os.WriteFile(file, []byte(`[
		{"question": "Opening hours?", "answer": "8 to 22.", "confidence": 0.7},
		{"question": "Parking?", "answer": "Lot B.", "confidence": 0.4}
	]`), 0o600))

	out, err := e.run(t, "content", "import", "1", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 pairs into bot 1")

	out, err = e.run(t, "content", "list", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "scraped_content")
}

func TestTelegramCommands(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	_, err := e.run(t, "telegram", "register", "--bot-id", "555", "--name", "campus_bot")
	assert.ErrorIs(t, err, apperr.ErrPrecondition)
	assert.Zero(t, e.fake.Calls("POST /telegram/register"))

	out, err := e.run(t, "telegram", "start")
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.True(t, e.fake.Running())

	_, err = e.run(t, "telegram", "register", "--bot-id", "555", "--name", "campus_bot")
	require.NoError(t, err)

	out, err = e.run(t, "telegram", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Service:  running")
	assert.Contains(t, out, "555")

	_, err = e.run(t, "telegram", "unregister", "555")
	require.NoError(t, err)

	out, err = e.run(t, "telegram", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No bots registered")

	_, err = e.run(t, "telegram", "stop")
	require.NoError(t, err)
	assert.False(t, e.fake.Running())
}

func TestAnalyticsOverview(t *testing.T) {
	e := newEnv(t)
	e.fake.SetOverview(models.AnalyticsOverview{TotalBots: 2, TotalQueries: 140, ActiveUsers: 9, AccuracyAvg: 0.85})
	e.login(t)

	out, err := e.run(t, "analytics", "overview")
	require.NoError(t, err)
	assert.Contains(t, out, "Queries:        140")
	assert.Contains(t, out, "Accuracy:       85%")
}

func TestAnalyticsTrendsRejectsBadWindow(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	_, err := e.run(t, "analytics", "trends", "--days", "400")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
