package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// EmbedSender is the subset of a discordgo session used for delivery.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier 通过 Discord bot 推送 embed 告警。
type DiscordNotifier struct {
	sender    EmbedSender
	channelID string
	logger    zerolog.Logger
}

// NewDiscordNotifier opens a bot session. An empty token yields a notifier that skips delivery.
func NewDiscordNotifier(botToken, channelID string, logger zerolog.Logger) (*DiscordNotifier, error) {
	n := &DiscordNotifier{
		channelID: channelID,
		logger:    logger.With().Str("component", "alert_discord").Logger(),
	}
	if botToken == "" {
		n.logger.Warn().Msg("discord bot token not set, discord alerts disabled")
		return n, nil
	}

	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	n.sender = session
	return n, nil
}

// NewDiscordNotifierWithSender wires an existing sender.
func NewDiscordNotifierWithSender(sender EmbedSender, channelID string, logger zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		sender:    sender,
		channelID: channelID,
		logger:    logger.With().Str("component", "alert_discord").Logger(),
	}
}

// Notify sends the alert as an embed.
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	if n.sender == nil {
		n.logger.Debug().Str("token", note.Token).Msg("discord session not initialized, skipping alert")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.sender.ChannelMessageSendEmbed(n.channelID, buildEmbed(note), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send discord embed: %w", err)
	}

	n.logger.Info().Str("token", note.Token).
		Str("spread_pct", note.SpreadPct.StringFixed(2)).
		Msg("告警已发送 (Discord)")
	return nil
}

func buildEmbed(note Notification) *discordgo.MessageEmbed {
	color := 0x2ECC71
	if note.Direction == "discount" {
		color = 0xE74C3C
	}

	return &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("%s spread %s%%", note.Token, note.SpreadPct.StringFixed(2)),
		Color:     color,
		Timestamp: note.At.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "CEX", Value: note.StreamedPrice.String(), Inline: true},
			{Name: "DEX", Value: note.PolledPrice.String(), Inline: true},
			{Name: "Threshold", Value: note.ThresholdPct.StringFixed(2) + "%", Inline: true},
			{Name: "Direction", Value: note.Direction, Inline: true},
		},
	}
}

var _ Notifier = (*DiscordNotifier)(nil)
