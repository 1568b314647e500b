package main

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestCountdownSummary(t *testing.T) {
	deadline := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		st   TimerStatus
		want []string
	}{
		{
			name: "unarmed",
			st:   TimerStatus{},
			want: []string{"The countdown is not armed."},
		},
		{
			name: "armed with time left",
			st: TimerStatus{
				Deadline:      deadline,
				TimeLeft:      2 * time.Hour,
				TimerDuration: 24 * time.Hour,
				LastResetBy:   "alice",
			},
			want: []string{
				"Time left: 2 hours",
				deadline.Format(time.RFC1123),
				"Last check-in by alice.",
			},
		},
		{
			name: "expired before scan",
			st: TimerStatus{
				Deadline: deadline,
				TimeLeft: 0,
			},
			want: []string{"Deadline was " + deadline.Format(time.RFC1123)},
		},
		{
			name: "alert already sent",
			st: TimerStatus{
				Deadline:  deadline,
				TimeLeft:  time.Hour,
				AlertSent: true,
			},
			want: []string{"Deadline missed; contacts have been alerted."},
		},
	}
	for _, tc := range cases {
		got := countdownSummary(tc.st)
		for _, want := range tc.want {
			if !strings.Contains(got, want) {
				t.Fatalf("%s: summary %q missing %q", tc.name, got, want)
			}
		}
	}
}

func TestInteractionUserName(t *testing.T) {
	build := func(nick, globalName, username string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{
				Member: &discordgo.Member{
					Nick: nick,
					User: &discordgo.User{
						GlobalName: globalName,
						Username:   username,
					},
				},
			},
		}
	}

	if got := interactionUserName(build("Nick", "Global", "user")); got != "Nick" {
		t.Fatalf("expected the server nick to win, got %q", got)
	}
	if got := interactionUserName(build("", "Global", "user")); got != "Global" {
		t.Fatalf("expected the global name fallback, got %q", got)
	}
	if got := interactionUserName(build("  ", "", "user")); got != "user" {
		t.Fatalf("expected the username fallback, got %q", got)
	}
	if got := interactionUserName(nil); got != "" {
		t.Fatalf("nil interaction must yield empty, got %q", got)
	}
	if got := interactionUserName(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}); got != "" {
		t.Fatalf("missing member must yield empty, got %q", got)
	}
}

func TestNewDiscordNotifierRequiresToken(t *testing.T) {
	if _, err := newDiscordNotifier("   "); err == nil {
		t.Fatal("expected an error for a blank token")
	}
	n, err := newDiscordNotifier("not-a-real-token")
	if err != nil {
		t.Fatalf("session construction should not validate the token: %v", err)
	}
	if n.dg == nil {
		t.Fatal("expected a session")
	}
}

func TestCommandsEnabled(t *testing.T) {
	n, err := newDiscordNotifier("token")
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if n.commandsEnabled() {
		t.Fatal("commands must start disabled")
	}

	engine, _ := newTestEngine(t, Config{}, &recordingNotifier{})
	n.enableCommands(engine, "  guild-1  ")
	if !n.commandsEnabled() {
		t.Fatal("commands should be enabled after wiring")
	}
	if n.guildID != "guild-1" {
		t.Fatalf("guild id not trimmed, got %q", n.guildID)
	}
}
