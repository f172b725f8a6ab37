package flowtools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/tool"
)

func newRegisteredRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, RegisterAll(reg))
	return reg
}

func TestGenerateMessageSummaryRecordsFindings(t *testing.T) {
	reg := newRegisteredRegistry(t)
	sub := &Submission{}
	ctx := WithSubmission(context.Background(), sub)

	result := reg.Invoke(ctx, "generate_message_summary", []byte(`{"current_associate_findings":"the answer is 42"}`))
	require.Equal(t, tool.StatusOK, result.Status)
	assert.True(t, reg.EndsTurn("generate_message_summary"))

	findings, submitted := sub.Findings()
	assert.True(t, submitted)
	assert.Equal(t, "the answer is 42", findings)
}

func TestGenerateMessageSummaryLastCallWins(t *testing.T) {
	reg := newRegisteredRegistry(t)
	sub := &Submission{}
	ctx := WithSubmission(context.Background(), sub)

	reg.Invoke(ctx, "generate_message_summary", []byte(`{"current_associate_findings":"first"}`))
	reg.Invoke(ctx, "generate_message_summary", []byte(`{"current_associate_findings":"second"}`))

	findings, submitted := sub.Findings()
	assert.True(t, submitted)
	assert.Equal(t, "second", findings)
}

func TestGenerateMarkdownReportDoesNotEndTurn(t *testing.T) {
	reg := newRegisteredRegistry(t)
	assert.False(t, reg.EndsTurn("generate_markdown_report"))

	sub := &Submission{}
	ctx := WithSubmission(context.Background(), sub)
	result := reg.Invoke(ctx, "generate_markdown_report", []byte(`{"principal_final_synthesis":"# Report"}`))
	require.Equal(t, tool.StatusOK, result.Status)

	report, submitted := sub.Report()
	assert.True(t, submitted)
	assert.Equal(t, "# Report", report)
}

func TestSubmissionToolsWithoutContextReturnError(t *testing.T) {
	reg := newRegisteredRegistry(t)
	result := reg.Invoke(context.Background(), "generate_message_summary", []byte(`{"current_associate_findings":"x"}`))
	assert.Equal(t, tool.StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "no active flow submission context")
}

func TestFinishFlowEndsTurnAndReportsFinished(t *testing.T) {
	reg := newRegisteredRegistry(t)
	assert.True(t, reg.EndsTurn("finish_flow"))

	result := reg.Invoke(context.Background(), "finish_flow", []byte(`{}`))
	assert.Equal(t, tool.StatusOK, result.Status)
}
