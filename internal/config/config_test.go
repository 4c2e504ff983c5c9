package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"false", false},
		{"1.5", 1.5},
		{"42", 42},
		{"-3", -3},
		{"not a number", "not a number"},
		{"1.2.3", "1.2.3"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Coerce(tt.raw), "raw=%q", tt.raw)
	}
}

func TestLoadRequiresAddresses(t *testing.T) {
	t.Setenv("ES_ADDRESS", "")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("ES_ADDRESS", "http://localhost:9200")
	t.Setenv("REDIS_ADDRESS", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Setenv("ES_ADDRESS", "http://localhost:9200")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("USE_DOGPILE_CACHE", "true")
	t.Setenv("JIRA_ASSIGNEE_ADWORDS", "jsmith")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseCache)
	assert.Equal(t, "jsmith", cfg.JiraAssignees["ADWORDS"])
	assert.Equal(t, ":8080", cfg.ListenAddr)
}
