package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
)

var secretsConfigExample = []byte(`# Generated secrets example (copy to data/secrets.toml and edit)
#
# The Discord bot token is required; the monitor refuses to start without it.
# Keep this file out of version control.

discord_bot_token = "YOUR_DISCORD_BOT_TOKEN_HERE"
`)

func ensureExampleFiles(dataDir string) {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	examplesDir := filepath.Join(dataDir, "config", "examples")
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		logger.Warn("create examples directory for example configs failed", "dir", examplesDir, "error", err)
		return
	}

	ensureExampleFile(filepath.Join(examplesDir, "config.toml.example"), exampleConfigBytes())
	ensureExampleFile(filepath.Join(examplesDir, "secrets.toml.example"), secretsConfigExample)
}

func ensureExampleFile(path string, contents []byte) {
	if len(contents) == 0 {
		return
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		logger.Warn("write example config failed", "path", path, "error", err)
	}
}

func exampleHeader(text string) []byte {
	return []byte(fmt.Sprintf("# Generated %s example (copy to a real config and edit as needed)\n\n", text))
}

func exampleConfigBytes() []byte {
	cfg := defaultConfig()
	cfg.DiscordGuildID = "YOUR_DISCORD_SERVER_ID"
	cfg.SeedContacts = []Contact{
		{Name: "First emergency contact", DestinationID: "DISCORD_USER_ID"},
		{Name: "Display-only contact", DestinationID: ""},
	}
	fc := buildBaseFileConfig(cfg)
	data, err := toml.Marshal(fc)
	if err != nil {
		logger.Warn("encode config example failed", "error", err)
		return nil
	}
	return append(exampleHeader("base config"), data...)
}

// buildBaseFileConfig converts a runtime Config into the pointer-based file
// form with every knob populated, so the written TOML shows all defaults.
func buildBaseFileConfig(cfg Config) fileConfig {
	intPtr := func(v int) *int { return &v }
	boolPtr := func(v bool) *bool { return &v }

	fc := fileConfig{
		StatusListen:    cfg.StatusAddr,
		StatusTLSListen: cfg.StatusTLSAddr,
		DataDir:         cfg.DataDir,
		AlertMessage:    cfg.AlertMessage,
		DiscordGuildID:  cfg.DiscordGuildID,
		NATSURL:         cfg.NATSURL,
		NATSSubject:     cfg.NATSSubject,
	}

	fc.TimerDurationMin = intPtr(int(cfg.TimerDuration / time.Minute))
	fc.PollIntervalSec = intPtr(int(cfg.PollInterval / time.Second))
	fc.RearmDelayMS = intPtr(int(cfg.RearmDelay / time.Millisecond))
	fc.StartUnarmed = boolPtr(cfg.StartUnarmed)
	fc.MaxParallelSends = intPtr(cfg.MaxParallelSends)
	fc.SendTimeoutSec = intPtr(int(cfg.SendTimeout / time.Second))
	fc.AlertRatePerMinute = intPtr(cfg.AlertRatePerMinute)
	fc.DiscordCommands = boolPtr(cfg.DiscordCommands)
	fc.LogDebug = boolPtr(cfg.LogDebug)

	if len(cfg.SeedContacts) > 0 {
		fc.Contacts = make([]fileContact, 0, len(cfg.SeedContacts))
		for _, c := range cfg.SeedContacts {
			fc.Contacts = append(fc.Contacts, fileContact{Name: c.Name, DestinationID: c.DestinationID})
		}
	}
	return fc
}

func rewriteConfigFile(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	fc := buildBaseFileConfig(cfg)
	data, err := toml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmpFile.Name()
	removeTemp := true
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if removeTemp {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	tmpFile = nil

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}

	bakPath := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(bakPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", bakPath, err)
		}
		if err := os.Rename(path, bakPath); err != nil {
			return fmt.Errorf("rename %s to %s: %w", path, bakPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	removeTemp = false
	return nil
}
