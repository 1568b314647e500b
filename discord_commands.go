package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// enableCommands wires the /checkin and /status slash commands to the
// engine. Must be called before the gateway opens; registration itself
// happens once the gateway is up because it needs the application id.
func (n *discordNotifier) enableCommands(engine *CheckInEngine, guildID string) {
	if n == nil || n.dg == nil || engine == nil {
		return
	}
	n.engine = engine
	n.guildID = strings.TrimSpace(guildID)
	n.dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		n.handleCommand(s, i)
	})
}

func (n *discordNotifier) commandsEnabled() bool {
	return n != nil && n.engine != nil && n.guildID != ""
}

func (n *discordNotifier) registerCommands() error {
	if !n.commandsEnabled() {
		return nil
	}
	appID := ""
	if n.dg.State != nil && n.dg.State.User != nil {
		appID = n.dg.State.User.ID
	}
	if appID == "" {
		return fmt.Errorf("missing application id")
	}

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "checkin",
			Description: "Check in and restart the safety countdown",
		},
		{
			Name:        "status",
			Description: "Show the current countdown status",
		},
	}

	_, err := n.dg.ApplicationCommandBulkOverwrite(appID, n.guildID, cmds)
	return err
}

func (n *discordNotifier) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if n == nil || n.engine == nil || s == nil || i == nil {
		return
	}
	if strings.TrimSpace(i.GuildID) != "" && n.guildID != "" && i.GuildID != n.guildID {
		return
	}
	if i.Member == nil || i.Member.User == nil {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "checkin":
		deadline, effective := n.engine.Reset(0, interactionUserName(i), "discord")
		_ = respondEphemeral(s, i, fmt.Sprintf(
			"Checked in. Next check-in due in %s (by %s).",
			humanDuration(effective),
			deadline.UTC().Format(time.RFC1123),
		))
	case "status":
		_ = respondEphemeral(s, i, countdownSummary(n.engine.Status(time.Now())))
	default:
		// ignore
	}
}

func countdownSummary(st TimerStatus) string {
	if st.Deadline.IsZero() {
		return "The countdown is not armed."
	}
	var b strings.Builder
	if st.AlertSent {
		b.WriteString("Deadline missed; contacts have been alerted. ")
	}
	if st.TimeLeft > 0 {
		fmt.Fprintf(&b, "Time left: %s (deadline %s).",
			humanDuration(st.TimeLeft), st.Deadline.UTC().Format(time.RFC1123))
	} else {
		fmt.Fprintf(&b, "Deadline was %s.", st.Deadline.UTC().Format(time.RFC1123))
	}
	if st.LastResetBy != "" {
		fmt.Fprintf(&b, " Last check-in by %s.", st.LastResetBy)
	}
	return b.String()
}

func interactionUserName(i *discordgo.InteractionCreate) string {
	if i == nil || i.Member == nil || i.Member.User == nil {
		return ""
	}
	if nick := strings.TrimSpace(i.Member.Nick); nick != "" {
		return nick
	}
	u := i.Member.User
	if g := strings.TrimSpace(u.GlobalName); g != "" {
		return g
	}
	return strings.TrimSpace(u.Username)
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) error {
	if s == nil || i == nil {
		return nil
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
