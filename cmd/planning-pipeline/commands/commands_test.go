package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "consume", "migrate", "dbhealth", "reap", "export-jobs", "extract", "upload-dir"} {
		assert.True(t, names[want], want)
	}
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("from", "")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = parseDay("from", "2026-03-01")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, 1, d.Day())

	_, err = parseDay("to", "01/03/2026")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.Equal(t, "to must be YYYY-MM-DD", common.UserMessage(err))
}
