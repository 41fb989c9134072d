package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/config"
	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/ingest"
	"github.com/lox/forecastbot/internal/narrative"
	"github.com/lox/forecastbot/internal/observe"
	"github.com/lox/forecastbot/internal/store"
)

var version = "dev"

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name='env-file',help='Path to a .env file to load before reading configuration.'"`
	Config  string                   `short:"c" help:"Path to a YAML config file." env:"FORECASTBOT_CONFIG" type:"path"`

	Serve         ServeCmd         `cmd:"" help:"Run the Discord bot, scheduler and HTTP server."`
	Migrate       MigrateCmd       `cmd:"" help:"Apply database migrations and exit."`
	SetLocation   SetLocationCmd   `cmd:"" help:"Geocode a place and store it for an identity."`
	SetCoords     SetCoordsCmd     `cmd:"" help:"Store raw coordinates for an identity."`
	GetLocation   GetLocationCmd   `cmd:"" help:"Show the stored location for an identity."`
	UnsetLocation UnsetLocationCmd `cmd:"" help:"Remove the stored location for an identity."`
	Render        RenderCmd        `cmd:"" help:"Render a forecast chart to a PNG file."`
	PrunePayloads PrunePayloadsCmd `cmd:"" help:"Delete old archived forecast responses."`
	Version       VersionCmd       `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("forecastbot"),
		kong.Description("Weather forecast charts for Discord."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// app holds what every command needs: configuration, a logger and the
// migrated location store.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	reporter *observe.SentryReporter
}

func newApp(cli *CLI) (*app, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	log, err := observe.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	reporter, err := observe.InitSentry(cfg.Sentry, version)
	if err != nil {
		log.Warn("sentry: disabled", zap.Error(err))
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db, log)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &app{cfg: cfg, log: log, store: st, reporter: reporter}, nil
}

func (a *app) Close() {
	if a.reporter != nil {
		a.reporter.Flush()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store: close failed", zap.Error(err))
	}
	a.log.Sync()
}

func (a *app) fonts() (*chart.Fonts, error) {
	if a.cfg.Fonts.Regular == "" {
		return chart.LoadDefaultFonts()
	}
	return chart.LoadFontFiles(a.cfg.Fonts.Regular, a.cfg.Fonts.Bold)
}

// pipeline wires the forecast client, renderer, captions, run log and error
// reporting into a delivery pipeline. The caller sets a sender if it delivers.
func (a *app) pipeline() (*delivery.Pipeline, *ingest.Client, error) {
	fonts, err := a.fonts()
	if err != nil {
		return nil, nil, err
	}
	client := ingest.NewClient(a.cfg.Forecast, a.log)
	if a.cfg.ArchivePayloads {
		client.SetArchive(a.store)
	}
	p := delivery.NewPipeline(a.store, client, chart.NewRenderer(fonts, a.cfg.Chart), a.log)
	p.SetRunRecorder(a.store)
	if a.reporter != nil {
		p.SetReporter(a.reporter)
	}

	captioner := narrative.NewCaptioner(a.log)
	if a.cfg.OpenAI.Enabled() {
		narrator, err := narrative.NewOpenAINarrator(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.Model)
		if err != nil {
			return nil, nil, err
		}
		captioner.SetNarrator(narrator, a.cfg.OpenAI.Timeout)
		a.log.Info("narrative: openai captions enabled", zap.String("model", a.cfg.OpenAI.Model))
	}
	p.SetCaptioner(captioner)

	return p, client, nil
}
