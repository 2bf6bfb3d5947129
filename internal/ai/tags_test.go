package ai

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for response parsing and the retry loop:
// - Parse a verified/corrected/rejected <verification> block
// - Reject responses missing the verification or status tags
// - Clamp out-of-range confidence values
// - Parse <evolution> blocks and fenced JSON schema output
// - Retry only on retryable errors, with a bounded attempt count
// - Surface the last error when every attempt fails

type mockCollaborator struct {
	responses []string
	errs      []error
	calls     []Request
}

func (m *mockCollaborator) Complete(_ context.Context, req Request) (*Response, error) {
	i := len(m.calls)
	m.calls = append(m.calls, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &Response{Text: text, InputTokens: 100, OutputTokens: 50}, nil
}

func TestParseVerification(t *testing.T) {
	t.Parallel()

	t.Run("verified", func(t *testing.T) {
		t.Parallel()
		v, err := ParseVerification(`Sure, here is my answer:
<verification>
  <status>verified</status>
  <confidence>0.92</confidence>
  <reason>Matches the source.</reason>
</verification>`)
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, v.Status)
		assert.Equal(t, 0.92, v.Confidence)
		assert.Equal(t, "Matches the source.", v.Reason)
		assert.Empty(t, v.Corrections)
	})

	t.Run("corrected with fields", func(t *testing.T) {
		t.Parallel()
		v, err := ParseVerification(`<verification>
  <status>corrected</status>
  <confidence>0.8</confidence>
  <corrections>
    <field name="name" original="procss" corrected="process" />
    <field name="end_line" original="10" corrected="12" />
  </corrections>
</verification>`)
		require.NoError(t, err)
		assert.Equal(t, StatusCorrected, v.Status)
		assert.Equal(t, "process", v.Corrections["name"])
		assert.Equal(t, "12", v.Corrections["end_line"])
	})

	t.Run("confidence clamped", func(t *testing.T) {
		t.Parallel()
		v, err := ParseVerification(`<verification><status>verified</status><confidence>1.7</confidence></verification>`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, v.Confidence)
	})

	t.Run("missing block", func(t *testing.T) {
		t.Parallel()
		_, err := ParseVerification("I could not verify this element.")
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "verification", parseErr.Tag)
	})

	t.Run("unknown status", func(t *testing.T) {
		t.Parallel()
		_, err := ParseVerification(`<verification><status>maybe</status></verification>`)
		assert.Error(t, err)
	})
}

func TestParseEvolution(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvolution(`<evolution>
  <new_regex>^def\s+(?P&lt;name&gt;\w+)</new_regex>
  <confidence>0.75</confidence>
  <reason>Allow tabs.</reason>
</evolution>`)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.NewRegex)
	assert.Equal(t, 0.75, ev.Confidence)

	_, err = ParseEvolution(`<evolution><confidence>0.5</confidence></evolution>`)
	assert.Error(t, err, "missing new_regex")
}

func TestExtractJSONBlock(t *testing.T) {
	t.Parallel()

	fenced := "Here is the schema:\n```json\n{\"name\": \"base-go\"}\n```\nDone."
	block, ok := ExtractJSONBlock(fenced)
	require.True(t, ok)
	assert.JSONEq(t, `{"name": "base-go"}`, block)

	bare := `prefix {"name": "x"} suffix`
	block, ok = ExtractJSONBlock(bare)
	require.True(t, ok)
	assert.JSONEq(t, `{"name": "x"}`, block)

	_, ok = ExtractJSONBlock("no json here")
	assert.False(t, ok)
}

func TestCompleteWithRetry(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.DiscardHandler)

	t.Run("retryable error then success", func(t *testing.T) {
		t.Parallel()
		mock := &mockCollaborator{
			errs:      []error{&CallError{Retryable: true, Err: errors.New("rate limited")}},
			responses: []string{"", "ok"},
		}
		resp, err := completeWithRetry(context.Background(), mock, Request{Prompt: "p"}, 3, logger)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text)
		assert.Len(t, mock.calls, 2)
	})

	t.Run("fatal error stops immediately", func(t *testing.T) {
		t.Parallel()
		fatal := &CallError{Retryable: false, Err: errors.New("invalid api key")}
		mock := &mockCollaborator{errs: []error{fatal, fatal, fatal}}
		_, err := completeWithRetry(context.Background(), mock, Request{Prompt: "p"}, 3, logger)
		require.Error(t, err)
		assert.False(t, IsRetryable(err) && len(mock.calls) > 1)
		assert.Len(t, mock.calls, 1)
	})

	t.Run("attempt cap", func(t *testing.T) {
		t.Parallel()
		retryable := &CallError{Retryable: true, Err: errors.New("overloaded")}
		mock := &mockCollaborator{errs: []error{retryable, retryable, retryable}}
		_, err := completeWithRetry(context.Background(), mock, Request{Prompt: "p"}, 2, logger)
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
		assert.Len(t, mock.calls, 2)
	})
}
