package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/retry"
)

const validIndex = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Calculator</title></head>
<body><input id="a"><button id="go">Add</button><div id="result"></div></body>
</html>`

func validResponse() string {
	return "Here you go.\n\n===FILE:index.html===\n" + validIndex + "\n===END===\n\n" +
		"===FILE:README.md===\n# Calculator\n\nAdds numbers together in the browser without dependencies.\n===END===\n"
}

type step struct {
	content string
	err     error
}

// scriptedModel replays steps in order, repeating the last one.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	messages [][]llms.MessageContent
	options  []llms.CallOptions
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.messages = append(m.messages, messages)
	m.options = append(m.options, opts)

	s := m.steps[min(m.calls, len(m.steps)-1)]
	m.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.content}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig() Config {
	return Config{
		RatePerMinute: 60000,
		Burst:         10,
		Retry:         retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func testRequest() Request {
	return Request{
		TaskID: "calc-1",
		Round:  1,
		Brief:  "Build a calculator that adds two numbers",
		Checks: []string{"Page has an input", "Shows the sum"},
	}
}

func TestParseFiles_Regex(t *testing.T) {
	files := ParseFiles(validResponse())

	require.Len(t, files, 2)
	assert.True(t, strings.HasPrefix(files[IndexFile], "<!DOCTYPE html>"))
	assert.True(t, strings.HasSuffix(files[IndexFile], "</html>"))
	assert.Contains(t, files[ReadmeFile], "# Calculator")
	assert.Equal(t, []string{"README.md", "index.html"}, files.Names())
}

func TestParseFiles_LineFallback(t *testing.T) {
	// No closing marker on the last file, so the pattern finds nothing.
	response := "===FILE: app.js ===\nconsole.log('hi');\n===FILE:style.css===\nbody { margin: 0; }\n"

	files := ParseFiles(response)
	assert.Equal(t, FileSet{
		"app.js":    "console.log('hi');",
		"style.css": "body { margin: 0; }",
	}, files)
}

func TestParseFiles_RejectsUnsafeNames(t *testing.T) {
	response := "===FILE:../escape.txt===\nx\n===END===\n" +
		"===FILE:/etc/passwd===\nx\n===END===\n" +
		"===FILE:.git/config===\nx\n===END===\n" +
		"===FILE:assets/app.js===\nok\n===END===\n" +
		"===FILE:empty.txt===\n   \n===END===\n"

	files := ParseFiles(response)
	assert.Equal(t, FileSet{"assets/app.js": "ok"}, files)
}

func TestParseFiles_NoFiles(t *testing.T) {
	assert.Empty(t, ParseFiles("I cannot help with that."))
}

func TestValidateHTML(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"valid", validIndex, ""},
		{"uppercase tags", strings.ToUpper(validIndex), ""},
		{"empty", "", "too short"},
		{"short", "<!DOCTYPE html><html></html>", "too short"},
		{"missing body", strings.Replace(validIndex, "<body>", "<main>", 1) + strings.Repeat(" ", 10), "<body"},
		{"missing doctype", strings.Replace(validIndex, "<!DOCTYPE html>", "", 1) + strings.Repeat("<p>padding</p>", 5), "<!doctype html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHTML(tt.content)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidOutput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureEssentialFiles(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("adds license and readme", func(t *testing.T) {
		files := FileSet{IndexFile: validIndex, ReadmeFile: "# short"}
		added := ensureEssentialFiles(files, testRequest(), now)

		assert.ElementsMatch(t, []string{LicenseFile, ReadmeFile}, added)
		assert.Contains(t, files[LicenseFile], "Copyright (c) 2025 LLM Generated Code")
		assert.Contains(t, files[ReadmeFile], "**Task ID**: calc-1")
		assert.Contains(t, files[ReadmeFile], "- Shows the sum")
	})

	t.Run("keeps model files", func(t *testing.T) {
		files := FileSet{IndexFile: validIndex, LicenseFile: "Apache", ReadmeFile: strings.Repeat("readme ", 20)}
		added := ensureEssentialFiles(files, testRequest(), now)

		assert.Empty(t, added)
		assert.Equal(t, "Apache", files[LicenseFile])
	})
}

func dataURI(mime, content string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString([]byte(content))
}

func TestDecodeAttachments(t *testing.T) {
	long := strings.Repeat("a", 600)
	decoded, errs := decodeAttachments([]Attachment{
		{Name: "data.csv", URL: dataURI("text/csv", "x,y\n1,2")},
		{Name: "logo.png", URL: dataURI("image/png", "\x89PNG\r\n")},
		{Name: "notes.md", URL: dataURI("text/markdown", long)},
		{Name: "remote.txt", URL: "https://example.com/remote.txt"},
		{Name: "broken.txt", URL: "data:text/plain;base64,!!!"},
	})

	require.Len(t, decoded, 3)
	require.Len(t, errs, 2)

	assert.Equal(t, "text/csv", decoded[0].MimeType)
	assert.Equal(t, "x,y\n1,2", decoded[0].Text)
	assert.True(t, decoded[1].Binary)
	assert.Equal(t, 6, decoded[1].Size)
	assert.Contains(t, decoded[1].preview(), "logo.png (binary, 6 bytes)")

	preview := decoded[2].preview()
	assert.Contains(t, preview, strings.Repeat("a", 500))
	assert.NotContains(t, preview, strings.Repeat("a", 501))
}

func TestIsTextFile(t *testing.T) {
	assert.True(t, isTextFile("data.JSON"))
	assert.True(t, isTextFile("config.yml"))
	assert.False(t, isTextFile("image.png"))
	assert.False(t, isTextFile("Makefile"))
}

func TestPrompts(t *testing.T) {
	assert.NotContains(t, systemPrompt(1), "ROUND")
	assert.Contains(t, systemPrompt(2), "This is ROUND 2: Update the existing application while preserving working functionality.")

	req := testRequest()
	prompt := userPrompt(req, []decodedAttachment{{Name: "data.csv", Text: "x,y"}})
	assert.Contains(t, prompt, "TASK: calc-1\nROUND: 1")
	assert.Contains(t, prompt, "1. Page has an input\n2. Shows the sum")
	assert.Contains(t, prompt, "ATTACHMENTS PROVIDED:")
	assert.Contains(t, prompt, "File: data.csv\nContent preview:\nx,y")
	assert.Contains(t, prompt, "===FILE:index.html===")
}

func TestLLM_Generate_WithFakeModel(t *testing.T) {
	g := NewLLM(fake.NewFakeLLM([]string{validResponse()}), testConfig(), nil)

	files, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{IndexFile, ReadmeFile, LicenseFile}, files.Names())
	assert.Contains(t, files[LicenseFile], "MIT License")
	assert.NoError(t, g.Ping(context.Background()))
}

func TestLLM_Generate_SendsPromptsAndOptions(t *testing.T) {
	model := &scriptedModel{steps: []step{{content: validResponse()}}}
	cfg := testConfig()
	cfg.Temperature = 0.2
	cfg.MaxTokens = 1234
	g := NewLLM(model, cfg, nil)

	req := testRequest()
	req.Round = 3
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, model.messages, 1)
	msgs := model.messages[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Contains(t, msgs[0].Parts[0].(llms.TextContent).Text, "ROUND 3")

	assert.Equal(t, 0.2, model.options[0].Temperature)
	assert.Equal(t, 1234, model.options[0].MaxTokens)
}

func TestLLM_Generate_RetriesInvalidOutput(t *testing.T) {
	model := &scriptedModel{steps: []step{
		{content: "===FILE:index.html===\n<p>too short</p>\n===END==="},
		{err: errors.New("service unavailable")},
		{content: validResponse()},
	}}
	logger := logging.NewTestLogger()
	g := NewLLM(model, testConfig(), logger.Logger)

	files, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, model.callCount())
	assert.Contains(t, files, IndexFile)
	logger.AssertLogged(t, zapcore.WarnLevel, "generation attempt failed")
}

func TestLLM_Generate_ExhaustsRetryBudget(t *testing.T) {
	model := &scriptedModel{steps: []step{{err: errors.New("service unavailable")}}}
	g := NewLLM(model, testConfig(), nil)

	_, err := g.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, 3, model.callCount())

	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestLLM_Generate_AuthenticationIsPermanent(t *testing.T) {
	authErr := llms.NewError(llms.ErrCodeAuthentication, "openai", "Invalid or missing API key")
	model := &scriptedModel{steps: []step{{err: authErr}}}
	g := NewLLM(model, testConfig(), nil)

	_, err := g.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, 1, model.callCount())
	assert.True(t, llms.IsAuthenticationError(err))
	assert.Error(t, g.Ping(context.Background()))
}

func TestLLM_Generate_EmptyBrief(t *testing.T) {
	model := &scriptedModel{steps: []step{{content: validResponse()}}}
	g := NewLLM(model, testConfig(), nil)

	req := testRequest()
	req.Brief = "   "
	_, err := g.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrEmptyBrief)
	assert.Zero(t, model.callCount())
}

func TestLLM_Generate_SkipsBadAttachments(t *testing.T) {
	model := &scriptedModel{steps: []step{{content: validResponse()}}}
	logger := logging.NewTestLogger()
	g := NewLLM(model, testConfig(), logger.Logger)

	req := testRequest()
	req.Attachments = []Attachment{{Name: "bad.txt", URL: "not-a-data-uri"}}
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	logger.AssertLogged(t, zapcore.WarnLevel, "skipping attachment")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid output", ErrInvalidOutput, true},
		{"unavailable", errors.New("503 service unavailable"), true},
		{"rate limited", llms.NewError(llms.ErrCodeRateLimit, "openai", "slow down"), true},
		{"timeout", context.DeadlineExceeded, true},
		{"auth", errors.New("incorrect api key provided"), false},
		{"invalid request", llms.NewError(llms.ErrCodeInvalidRequest, "openai", "bad"), false},
		{"model missing", llms.NewError(llms.ErrCodeResourceNotFound, "openai", "no model"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.OpenAIConfig{Temperature: 0.5, MaxTokens: 100, RatePerMinute: 10}, config.PipelineConfig{
		MaxAttempts: 4,
		BaseDelay:   config.Duration(2 * time.Second),
		MaxDelay:    config.Duration(8 * time.Second),
	})
	assert.Equal(t, 0.5, cfg.Temperature)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
}

func TestNewOpenAIModel_RequiresKey(t *testing.T) {
	_, err := NewOpenAIModel(config.OpenAIConfig{}, nil)
	assert.Error(t, err)

	m, err := NewOpenAIModel(config.OpenAIConfig{APIKey: config.Secret("sk-test"), BaseURL: "http://127.0.0.1:1/v1"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
