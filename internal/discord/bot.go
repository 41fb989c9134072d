package discord

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Config holds the gateway settings.
type Config struct {
	Token string `yaml:"token" envconfig:"TOKEN"`
	// GuildIDs limits command registration to these guilds; empty registers
	// global commands.
	GuildIDs         []string      `yaml:"guild_ids" envconfig:"GUILD_IDS"`
	RegisterCommands bool          `yaml:"register_commands" envconfig:"REGISTER_COMMANDS"`
	CommandTimeout   time.Duration `yaml:"command_timeout" envconfig:"COMMAND_TIMEOUT"`
}

// Enabled reports whether a bot token is configured.
func (c Config) Enabled() bool {
	return c.Token != ""
}

// Bot connects Commands to the Discord gateway.
type Bot struct {
	cfg     Config
	session *discordgo.Session
	cmds    *Commands
	log     *zap.Logger
}

func New(cfg Config, cmds *Commands, log *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{cfg: cfg, session: session, cmds: cmds, log: log}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	return b, nil
}

// Session exposes the gateway session, e.g. for a ChannelSender.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord: ready", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
	if !b.cfg.RegisterCommands {
		return
	}

	guilds := b.cfg.GuildIDs
	if len(guilds) == 0 {
		guilds = []string{""}
	}
	for _, guild := range guilds {
		cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, guild, Definitions())
		if err != nil {
			b.log.Error("discord: failed to register commands", zap.String("guild", guild), zap.Error(err))
			continue
		}
		names := make([]string, 0, len(cmds))
		for _, c := range cmds {
			names = append(names, c.Name)
		}
		b.log.Info("discord: registered commands", zap.String("guild", guild), zap.Strings("commands", names))
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	inv := invocation(i)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()

	// Charts take longer than the three seconds Discord allows for a first
	// response, so defer and edit the reply once rendering finishes.
	if _, ok := ChartKind(inv.Command); ok {
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		}, discordgo.WithContext(ctx))
		if err != nil {
			b.log.Warn("discord: failed to defer response", zap.String("command", inv.Command), zap.Error(err))
			return
		}
		reply := b.cmds.Handle(ctx, inv)
		if reply.Ephemeral {
			// A deferred public response cannot become ephemeral, so replace
			// it with an ephemeral follow-up.
			if err := s.InteractionResponseDelete(i.Interaction, discordgo.WithContext(ctx)); err != nil {
				b.log.Warn("discord: failed to delete deferred response", zap.Error(err))
			}
			_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
				Content: reply.Content,
				Flags:   discordgo.MessageFlagsEphemeral,
			}, discordgo.WithContext(ctx))
		} else {
			_, err = s.InteractionResponseEdit(i.Interaction, webhookEdit(reply), discordgo.WithContext(ctx))
		}
		if err != nil {
			b.log.Warn("discord: failed to send reply", zap.String("command", inv.Command), zap.Error(err))
		}
		return
	}

	reply := b.cmds.Handle(ctx, inv)
	if err := s.InteractionRespond(i.Interaction, interactionResponse(reply), discordgo.WithContext(ctx)); err != nil {
		b.log.Warn("discord: failed to send reply", zap.String("command", inv.Command), zap.Error(err))
	}
}

// invocation extracts the command, identity and string options from i.
func invocation(i *discordgo.InteractionCreate) Invocation {
	data := i.ApplicationCommandData()
	inv := Invocation{
		Command: data.Name,
		Domain:  DirectDomain,
		Options: make(map[string]string, len(data.Options)),
	}
	if i.GuildID != "" {
		inv.Domain = i.GuildID
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.Owner = i.Member.User.ID
	case i.User != nil:
		inv.Owner = i.User.ID
	}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Options[opt.Name] = opt.StringValue()
		}
	}
	return inv
}

func interactionResponse(r Reply) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{Content: r.Content}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if r.File != nil {
		data.Files = []*discordgo.File{file(r.File)}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

func webhookEdit(r Reply) *discordgo.WebhookEdit {
	content := r.Content
	edit := &discordgo.WebhookEdit{Content: &content}
	if r.File != nil {
		edit.Files = []*discordgo.File{file(r.File)}
	}
	return edit
}

func file(a *Attachment) *discordgo.File {
	return &discordgo.File{
		Name:        a.Name,
		ContentType: "image/png",
		Reader:      bytes.NewReader(a.Data),
	}
}
