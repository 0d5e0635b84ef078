package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN",
		"AWS_BEDROCK_KNOWLEDGE_BASE_ID", "AWS_BEDROCK_MODEL_ID",
		"RELAY_FALLBACK_MESSAGE", "RELAY_ERROR_MESSAGE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "us-east-1", cfg.KnowledgeBase.Region)
	assert.Equal(t, defaultModelID, cfg.KnowledgeBase.ModelID)
	assert.False(t, cfg.KnowledgeBase.Configured())
	assert.False(t, cfg.KnowledgeBase.StaticCredentials())
	assert.Equal(t, DefaultFallbackMessage, cfg.Relay.FallbackMessage)
	assert.Equal(t, DefaultErrorMessage, cfg.Relay.ErrorMessage)
	assert.Equal(t, zerolog.InfoLevel, cfg.Log.Level)
	assert.False(t, cfg.Log.Console)
}

func TestLoadKnowledgeBase(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_BEDROCK_KNOWLEDGE_BASE_ID", " KB123 ")
	t.Setenv("AWS_BEDROCK_MODEL_ID", "arn:aws:bedrock:eu-west-1::foundation-model/x")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.KnowledgeBase.Region)
	assert.Equal(t, "KB123", cfg.KnowledgeBase.KnowledgeBaseID)
	assert.True(t, cfg.KnowledgeBase.Configured())
	assert.True(t, cfg.KnowledgeBase.StaticCredentials())
	assert.Equal(t, "arn:aws:bedrock:eu-west-1::foundation-model/x", cfg.KnowledgeBase.ModelID)
}

func TestLoadServerAddr(t *testing.T) {
	cases := map[string]string{
		"9090":           ":9090",
		":7070":          ":7070",
		"127.0.0.1:6060": "127.0.0.1:6060",
	}
	for port, want := range cases {
		t.Run(port, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("PORT", port)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Server.Addr)
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "chatty")
	_, err := Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("LOG_FORMAT", "xml")
	_, err = Load()
	assert.Error(t, err)
}
