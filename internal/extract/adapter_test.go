package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/textextract"
)

type stubText struct {
	text string
	err  error
}

func (s stubText) ExtractPDF(context.Context, []byte) (textextract.Result, error) {
	return textextract.Result{Text: s.text, Pages: 1, Method: "stub"}, s.err
}

type stubModel struct {
	err   error
	calls int
}

func (m *stubModel) Summarize(context.Context, llm.Content, string) (llm.PlanningSummary, []byte, error) {
	m.calls++
	return llm.PlanningSummary{}, []byte(`{}`), m.err
}

func (m *stubModel) Analyze(context.Context, llm.Content, string) (llm.PlanningAnalysis, []byte, error) {
	m.calls++
	return llm.PlanningAnalysis{}, []byte(`{}`), m.err
}

func (m *stubModel) ModelName(llm.Mode) string { return "stub-model" }

func TestPrepare(t *testing.T) {
	longText := strings.Repeat("Planning statement for land at Mill Lane. ", 10)

	tests := []struct {
		name     string
		text     stubText
		mime     string
		data     []byte
		wantKind common.ErrorKind
		wantMsg  string
		check    func(t *testing.T, c llm.Content)
	}{
		{
			name: "pdf text path",
			text: stubText{text: longText},
			mime: "application/pdf",
			data: []byte("%PDF"),
			check: func(t *testing.T, c llm.Content) {
				assert.False(t, c.IsImage())
				assert.Equal(t, longText, c.Text)
				assert.Equal(t, "drawings", c.Focus)
			},
		},
		{
			name:     "image-only pdf",
			text:     stubText{text: "  12 \n"},
			mime:     "application/pdf; charset=binary",
			data:     []byte("%PDF"),
			wantKind: common.KindContent,
			wantMsg:  "image-only",
		},
		{
			name:     "unreadable pdf",
			text:     stubText{err: errors.New("no xref")},
			mime:     "application/pdf",
			data:     []byte("%PDF"),
			wantKind: common.KindContent,
		},
		{
			name: "image path keeps focus",
			mime: "image/png",
			data: []byte{0x89, 'P', 'N', 'G'},
			check: func(t *testing.T, c llm.Content) {
				assert.True(t, c.IsImage())
				assert.Equal(t, "image/png", c.ImageMIME)
				assert.Equal(t, "drawings", c.Focus)
			},
		},
		{
			name:     "unsupported type",
			mime:     "application/msword",
			data:     []byte("doc"),
			wantKind: common.KindContent,
			wantMsg:  "unsupported",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(&stubModel{}, tt.text, nil, WithMinTextChars(200))
			c, err := a.Prepare(context.Background(), tt.data, tt.mime, " drawings ")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, common.IsKind(err, tt.wantKind))
				assert.Contains(t, err.Error(), tt.wantMsg)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestPrepareInterruptedIsUpstream(t *testing.T) {
	for _, cause := range []error{context.Canceled, context.DeadlineExceeded, fmt.Errorf("page 3: %w", context.DeadlineExceeded)} {
		a := NewAdapter(&stubModel{}, stubText{err: cause}, nil)
		_, err := a.Prepare(context.Background(), []byte("%PDF-1.7"), "application/pdf", "")
		require.Error(t, err)
		assert.True(t, common.IsKind(err, common.KindUpstream), err)
		assert.False(t, common.IsKind(err, common.KindContent))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "could not read PDF text in time", common.UserMessage(err))
	}
}

func TestSummarizeAndAnalyzePassErrorsThrough(t *testing.T) {
	m := &stubModel{err: common.UpstreamError("openai returned status 503", nil)}
	a := NewAdapter(m, stubText{}, nil)

	_, _, err := a.Summarize(context.Background(), llm.Content{Text: "x"}, "a.pdf")
	assert.True(t, common.IsKind(err, common.KindUpstream))

	m.err = common.SchemaError("bad shape", nil)
	_, _, err = a.Analyze(context.Background(), llm.Content{Text: "x"}, "a.pdf")
	assert.True(t, common.IsKind(err, common.KindSchema))
	assert.Equal(t, 2, m.calls)
	assert.Equal(t, "stub-model", a.ModelName(llm.ModeSummary))
}
