package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMessageLen = 2000

// discordNotifier delivers alert messages over Discord. A destination id is
// a Discord user id; the DM channel is created once and cached. Ids that
// fail DM-channel creation are retried as raw channel ids, so a shared
// guild channel works as a contact too.
//
// Delivery is plain REST and never depends on the gateway connection; the
// gateway only serves slash commands and bot presence.
type discordNotifier struct {
	dg *discordgo.Session

	engine  *CheckInEngine
	guildID string

	dmMu  sync.Mutex
	dmFor map[string]string // user id -> DM channel id
}

func newDiscordNotifier(token string) (*discordNotifier, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord bot token is empty")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds)
	return &discordNotifier{
		dg:    dg,
		dmFor: make(map[string]string),
	}, nil
}

func (n *discordNotifier) Send(ctx context.Context, destinationID, text string) error {
	if n == nil || n.dg == nil {
		return errors.New("discord session not configured")
	}
	destinationID = strings.TrimSpace(destinationID)
	if destinationID == "" {
		return errors.New("empty destination id")
	}
	if len(text) > discordMaxMessageLen {
		text = text[:discordMaxMessageLen]
	}

	channelID, dmErr := n.dmChannelFor(ctx, destinationID)
	if dmErr != nil {
		// Not a user we can DM; try the id as a channel directly.
		channelID = destinationID
	}
	if _, err := n.dg.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		if dmErr != nil {
			return fmt.Errorf("send to %s: %w (dm channel: %v)", channelID, err, dmErr)
		}
		return fmt.Errorf("send to dm channel: %w", err)
	}
	return nil
}

func (n *discordNotifier) dmChannelFor(ctx context.Context, userID string) (string, error) {
	n.dmMu.Lock()
	if id, ok := n.dmFor[userID]; ok {
		n.dmMu.Unlock()
		return id, nil
	}
	n.dmMu.Unlock()

	ch, err := n.dg.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	n.dmMu.Lock()
	n.dmFor[userID] = ch.ID
	n.dmMu.Unlock()
	return ch.ID, nil
}

// runGateway opens the Discord gateway, retrying with backoff until it
// connects or the context ends. discordgo reconnects on its own after the
// first successful open. A gateway that never comes up degrades slash
// commands and presence but not alert delivery.
func (n *discordNotifier) runGateway(ctx context.Context) {
	if n == nil || n.dg == nil {
		return
	}
	backoff := 5 * time.Second
	const maxBackoff = 5 * time.Minute
	for {
		err := n.dg.Open()
		if err == nil {
			logger.Info("discord gateway connected", "component", "discord", "kind", "gateway")
			if n.commandsEnabled() {
				if err := n.registerCommands(); err != nil {
					logger.Warn("discord command registration failed", "error", err)
				}
			}
			return
		}
		logger.Warn("discord gateway open failed; retrying",
			"component", "discord",
			"error", err,
			"retry_in", backoff.String(),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (n *discordNotifier) close() {
	if n == nil || n.dg == nil {
		return
	}
	_ = n.dg.Close()
}
