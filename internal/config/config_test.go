package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "CHAT_TRANSPORT", "FOLLOW_UP_DELAY", "ASSIST_POLICY_PATH", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, TransportHTTP, cfg.Chat.Transport)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, 1500*time.Millisecond, cfg.Timing.AckDelay)
	require.Equal(t, time.Second, cfg.Timing.NavigateDelay)
	require.Equal(t, 30*time.Second, cfg.Timing.FollowUpDelay)
	require.Equal(t, 2*time.Second, cfg.Timing.MountFollowUpDelay)
	require.Equal(t, 2*time.Second, cfg.Timing.SupportDelay)
	require.Equal(t, 24*time.Hour, cfg.Timing.StaleWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHAT_TRANSPORT", "GRPC")
	t.Setenv("CHAT_GRPC_ADDR", "chat:50051")
	t.Setenv("FOLLOW_UP_DELAY", "45s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("ACK_DELAY", "not-a-duration")
	t.Setenv("ASSIST_POLICY_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, TransportGRPC, cfg.Chat.Transport)
	require.Equal(t, "chat:50051", cfg.Chat.GrpcAddr)
	require.Equal(t, 45*time.Second, cfg.Timing.FollowUpDelay)
	require.Equal(t, 1500*time.Millisecond, cfg.Timing.AckDelay)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_PolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timing:
  follow_up_delay: 1m
  stale_window: 48h
clarifications:
  case_tracking: "Do you want a status update?"
  case_review: ""
`), 0o600))
	t.Setenv("ASSIST_POLICY_PATH", path)
	t.Setenv("CHAT_TRANSPORT", "http")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, time.Minute, cfg.Timing.FollowUpDelay)
	require.Equal(t, 48*time.Hour, cfg.Timing.StaleWindow)
	require.Equal(t, 1500*time.Millisecond, cfg.Timing.AckDelay)
	require.Equal(t, map[string]string{"case_tracking": "Do you want a status update?"}, cfg.Clarifications)
}

func TestLoad_BadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timing: [oops"), 0o600))
	t.Setenv("ASSIST_POLICY_PATH", path)

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:   "8080",
			DBPath: "x.db",
			Chat:   ChatConfig{Transport: TransportHTTP, URL: "http://chat"},
			Timing: TimingConfig{FollowUpDelay: time.Second, StaleWindow: time.Hour},
			ConversationLog: ConversationLogConfig{
				Dir: "logs", GlobalPath: "logs/all.ndjson", QueueSize: 1,
			},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Chat.Transport = "carrier-pigeon"
	require.Error(t, c.Validate())

	c = base()
	c.Chat = ChatConfig{Transport: TransportGRPC}
	require.Error(t, c.Validate())

	c = base()
	c.Timing.FollowUpDelay = 2 * time.Hour
	require.Error(t, c.Validate())

	c = base()
	c.Port = ""
	require.Error(t, c.Validate())
}

func TestIsDevelopment(t *testing.T) {
	require.True(t, (&Config{}).IsDevelopment())
	require.True(t, (&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment())
	require.False(t, (&Config{FrontendURL: "https://app.example.com"}).IsDevelopment())
}
