package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"REJOINDER_STORE_ID", "STORE_ID", "REGION", "EVENT_STORE",
		"MONGODB_URI", "MONGODB_DB", "DATABASE_URL", "SQLITE_PATH",
		"AGENT_RUNTIME", "MODEL", "CLAUDE_BINARY", "MAX_TURNS",
		"HTTP_PORT", "LOG_LEVEL", "LOG_PRETTY",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()

	if cfg.StoreID != "rejoinder-default" {
		t.Errorf("StoreID = %q, want %q", cfg.StoreID, "rejoinder-default")
	}
	if cfg.Region != "us-west-2" {
		t.Errorf("Region = %q, want %q", cfg.Region, "us-west-2")
	}
	if cfg.EventStore != StoreMemory {
		t.Errorf("EventStore = %q, want %q", cfg.EventStore, StoreMemory)
	}
	if cfg.AgentRuntime != RuntimeClaude {
		t.Errorf("AgentRuntime = %q, want %q", cfg.AgentRuntime, RuntimeClaude)
	}
	if cfg.ClaudeBinary != "claude" {
		t.Errorf("ClaudeBinary = %q, want %q", cfg.ClaudeBinary, "claude")
	}
	if cfg.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d, want 10", cfg.MaxTurns)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, "8080")
	}
}

func TestFromEnvStoreIDPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_ID", "legacy-store")

	if got := FromEnv().StoreID; got != "legacy-store" {
		t.Errorf("StoreID = %q, want %q", got, "legacy-store")
	}

	t.Setenv("REJOINDER_STORE_ID", "primary-store")

	if got := FromEnv().StoreID; got != "primary-store" {
		t.Errorf("StoreID = %q, want %q", got, "primary-store")
	}
}

func TestFromEnvMaxTurns(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 10},
		{"valid", "7", 7},
		{"not a number", "bogus", 10},
		{"negative", "-3", 10},
		{"zero", "0", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("MAX_TURNS", tt.value)

			if got := FromEnv().MaxTurns; got != tt.want {
				t.Errorf("MaxTurns = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFromEnvLogPretty(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_PRETTY", "true")

	if !FromEnv().LogPretty {
		t.Error("LogPretty = false, want true")
	}

	t.Setenv("LOG_PRETTY", "nope")

	if FromEnv().LogPretty {
		t.Error("LogPretty = true, want false")
	}
}
