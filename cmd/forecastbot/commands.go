package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/api"
	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/discord"
	"github.com/lox/forecastbot/internal/ingest"
	"github.com/lox/forecastbot/internal/models"
	"github.com/lox/forecastbot/internal/publish"
	"github.com/lox/forecastbot/internal/scheduler"
)

// Identity selects whose location a command works on.
type Identity struct {
	Domain string `short:"d" required:"" help:"Domain, e.g. a guild ID or \"dm\"."`
	Owner  string `short:"o" required:"" help:"Owner within the domain, e.g. a user ID."`
}

type ServeCmd struct {
	NoDiscord bool `help:"Do not connect to Discord even if a token is set."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline, client, err := a.pipeline()
	if err != nil {
		return err
	}

	if a.cfg.ArchivePayloads && a.cfg.PayloadRetentionDays > 0 {
		n, err := a.store.PruneRawPayloads(ctx, a.cfg.PayloadRetentionDays)
		if err != nil {
			a.log.Warn("store: payload prune failed", zap.Error(err))
		} else {
			a.log.Info("store: pruned raw payloads", zap.Int64("deleted", n))
		}
	}

	router := publish.NewRouter()
	if a.cfg.FTP.Enabled() {
		router.Register("ftp", publish.NewFTPSender(a.cfg.FTP, a.log))
	}
	pipeline.SetSender(router)

	server := api.NewServer(a.store, pipeline, a.cfg.ListenAddr, a.log)
	server.SetResolver(client)
	server.SetCacheTTL(a.cfg.PreviewCacheTTL)

	if a.cfg.Discord.Enabled() && !c.NoDiscord {
		cmds := discord.NewCommands(a.store, client, pipeline, a.log)
		cmds.SetOnLocationChange(server.InvalidateCharts)
		bot, err := discord.New(a.cfg.Discord, cmds, a.log)
		if err != nil {
			return err
		}
		router.Register("discord", discord.NewChannelSender(bot.Session()))
		if err := bot.Open(); err != nil {
			return err
		}
		defer bot.Close()
	} else {
		a.log.Info("discord: disabled")
	}
	a.log.Info("publish: senders registered", zap.Strings("schemes", router.Schemes()))

	sched := scheduler.New(a.cfg.Schedules, pipeline, a.cfg.ScheduleTimeout, a.log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	server.SetSchedules(sched)
	return server.Run(ctx)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.store.MigrationVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d\n", v)
	return nil
}

type PrunePayloadsCmd struct {
	Days int `default:"30" help:"Delete archived payloads older than this many days."`
}

func (c *PrunePayloadsCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.PruneRawPayloads(context.Background(), c.Days)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d payloads\n", n)
	return nil
}

type SetLocationCmd struct {
	Identity
	Place string `arg:"" help:"Place name to geocode."`
}

func (c *SetLocationCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	place, err := ingest.NewClient(a.cfg.Forecast, a.log).Geocode(ctx, c.Place)
	if err != nil {
		return err
	}
	loc := place.Location()
	if err := a.store.SetLocation(ctx, c.Domain, c.Owner, loc); err != nil {
		return err
	}
	fmt.Printf("Location set to %s (%s), feature code %s\n", loc.Label(), loc.Coordinates, loc.FeatureCode.String)
	return nil
}

type SetCoordsCmd struct {
	Identity
	Coordinates string `arg:"" help:"Coordinates as \"lat, lon\" or degrees/minutes/seconds."`
}

func (c *SetCoordsCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	coords, err := models.ParseCoordinates(c.Coordinates)
	if err != nil {
		return err
	}
	loc := models.CoordinatesLocation(coords.Latitude, coords.Longitude)
	if err := a.store.SetLocation(context.Background(), c.Domain, c.Owner, loc); err != nil {
		return err
	}
	fmt.Printf("Location set to %s\n", coords)
	return nil
}

type GetLocationCmd struct {
	Identity
}

func (c *GetLocationCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	loc, err := a.store.GetLocation(context.Background(), c.Domain, c.Owner)
	if err != nil {
		return err
	}
	if loc == nil {
		return delivery.ErrNoLocationSet
	}
	if loc.Named() {
		fmt.Printf("%s (%s), feature code %s\n", loc.Label(), loc.Coordinates, loc.FeatureCode.String)
	} else {
		fmt.Println(loc.Coordinates)
	}
	return nil
}

type UnsetLocationCmd struct {
	Identity
}

func (c *UnsetLocationCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.store.DeleteLocation(context.Background(), c.Domain, c.Owner)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Println("no location was set")
		return nil
	}
	fmt.Println("location removed")
	return nil
}

type RenderCmd struct {
	Domain string `short:"d" help:"Domain of a stored location."`
	Owner  string `short:"o" help:"Owner of a stored location."`
	Place  string `short:"p" help:"Place name or coordinates to render instead of a stored location."`
	Kind   string `short:"k" default:"hourly" enum:"hourly,weekly,daily,absolute_humidity,soil_moisture" help:"Chart kind."`
	Out    string `required:"" type:"path" help:"Output PNG path."`
}

func (c *RenderCmd) Run(cli *CLI) error {
	if c.Place == "" && (c.Domain == "" || c.Owner == "") {
		return errors.New("either --place or both --domain and --owner are required")
	}
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline, client, err := a.pipeline()
	if err != nil {
		return err
	}
	kind, err := chart.ParseKind(c.Kind)
	if err != nil {
		return err
	}

	req := delivery.Request{Domain: c.Domain, Owner: c.Owner, Kind: kind, Trigger: "cli"}
	if c.Place != "" {
		loc, err := client.Resolve(ctx, c.Place)
		if err != nil {
			return err
		}
		req.Location = &loc
	}

	ch, err := pipeline.Render(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Out, ch.Image, 0o644); err != nil {
		return err
	}
	fmt.Println(ch.Caption)
	fmt.Printf("wrote %s (%d bytes)\n", c.Out, len(ch.Image))
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(version)
	return nil
}
