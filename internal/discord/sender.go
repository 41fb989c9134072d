package discord

import (
	"bytes"
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/publish"
)

// Messenger is the part of *discordgo.Session used to post charts.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelSender posts charts to "discord:<channel-id>" targets.
type ChannelSender struct {
	messenger Messenger
}

func NewChannelSender(m Messenger) *ChannelSender {
	return &ChannelSender{messenger: m}
}

func (s *ChannelSender) Send(ctx context.Context, d delivery.Delivery) error {
	_, channelID, err := publish.ParseTarget(d.Target)
	if err != nil {
		return &delivery.DeliveryError{Target: d.Target, Err: err}
	}

	_, err = s.messenger.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: d.Caption,
		Files: []*discordgo.File{{
			Name:        d.FileName,
			ContentType: "image/png",
			Reader:      bytes.NewReader(d.Image),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return &delivery.DeliveryError{Target: d.Target, Err: err}
	}
	return nil
}
