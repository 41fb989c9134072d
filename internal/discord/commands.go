package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/ingest"
	"github.com/lox/forecastbot/internal/metrics"
	"github.com/lox/forecastbot/internal/models"
)

// DirectDomain is the domain used for commands sent outside a guild.
const DirectDomain = "dm"

const genericFailure = "Something went wrong, please try again later."

// Registry is the location store used by the commands.
type Registry interface {
	SetLocation(ctx context.Context, domain, owner string, loc models.Location) error
	GetLocation(ctx context.Context, domain, owner string) (*models.Location, error)
	DeleteLocation(ctx context.Context, domain, owner string) (bool, error)
	CountLocations(ctx context.Context) (int, error)
}

// Geocoder looks up places by name.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (*ingest.Place, error)
	Resolve(ctx context.Context, arg string) (models.Location, error)
}

// Charts renders forecast charts.
type Charts interface {
	Render(ctx context.Context, req delivery.Request) (*delivery.Chart, error)
}

// Invocation is a slash command stripped of gateway details.
type Invocation struct {
	Command string
	Domain  string
	Owner   string
	Options map[string]string
}

// Attachment is a file sent with a reply.
type Attachment struct {
	Name string
	Data []byte
}

// Reply is the response to an Invocation.
type Reply struct {
	Content   string
	Ephemeral bool
	File      *Attachment
}

func ephemeral(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...), Ephemeral: true}
}

// replyError is a failure whose message is safe to show the user. Err, when
// set, is the underlying pipeline error.
type replyError struct {
	msg string
	err error
}

func (e *replyError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *replyError) Unwrap() error {
	return e.err
}

func rejectf(format string, args ...any) error {
	return &replyError{msg: fmt.Sprintf(format, args...)}
}

func lookupFailed(arg string, err error) error {
	if errors.Is(err, ingest.ErrNoResults) {
		return rejectf("No place found matching %q.", arg)
	}
	return &replyError{msg: "Couldn't look up that place right now, please try again later.", err: err}
}

// chartCommands are the slash commands that reply with a chart, named after
// their kind.
var chartCommands = []struct {
	kind        chart.Kind
	description string
}{
	{chart.KindHourly, "Hourly forecast chart for the next two days."},
	{chart.KindWeekly, "Forecast chart for the next seven days."},
	{chart.KindDaily, "Daily forecast chart for the next fourteen days."},
	{chart.KindAbsoluteHumidity, "Hourly absolute humidity forecast."},
	{chart.KindSoilMoisture, "Hourly soil moisture forecast for the next three days."},
}

// ChartKind returns the chart kind a command renders, if any.
func ChartKind(command string) (chart.Kind, bool) {
	for _, c := range chartCommands {
		if string(c.kind) == command {
			return c.kind, true
		}
	}
	return "", false
}

// Commands implements the bot's slash commands.
type Commands struct {
	registry Registry
	geocoder Geocoder
	charts   Charts
	onChange func(domain, owner string)
	log      *zap.Logger
}

func NewCommands(registry Registry, geocoder Geocoder, charts Charts, log *zap.Logger) *Commands {
	if log == nil {
		log = zap.NewNop()
	}
	return &Commands{registry: registry, geocoder: geocoder, charts: charts, log: log}
}

// SetOnLocationChange registers fn to run after a command sets or removes a
// location, so caches keyed by identity can be dropped.
func (c *Commands) SetOnLocationChange(fn func(domain, owner string)) {
	c.onChange = fn
}

func (c *Commands) locationChanged(ctx context.Context, inv Invocation) {
	if c.onChange != nil {
		c.onChange(inv.Domain, inv.Owner)
	}
	c.refreshGauge(ctx)
}

// Definitions returns the slash commands to register with Discord.
func Definitions() []*discordgo.ApplicationCommand {
	place := func(required bool, desc string) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "place",
			Description: desc,
			Required:    required,
		}}
	}
	defs := []*discordgo.ApplicationCommand{
		{
			Name:        "set_location",
			Description: "Set the location to use by default for weather commands.",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "location",
				Description: "The location to use by default for weather commands",
				Required:    true,
			}},
		},
		{
			Name:        "set_coords",
			Description: "Set the coordinates to use by default for weather commands.",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "coordinates",
				Description: "Latitude and longitude, e.g. 48.85, 2.35",
				Required:    true,
			}},
		},
		{
			Name:        "unset_location",
			Description: "Unset the location to use by default for weather commands.",
		},
		{
			Name:        "location",
			Description: "Show the location used by default for weather commands.",
		},
		{
			Name:        "find_coordinates",
			Description: "Look up the coordinates of a place.",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "location",
				Description: "The place to look up",
				Required:    true,
			}},
		},
	}
	for _, c := range chartCommands {
		defs = append(defs, &discordgo.ApplicationCommand{
			Name:        string(c.kind),
			Description: c.description,
			Options:     place(false, "Place name or coordinates instead of your saved location"),
		})
	}
	return defs
}

// Handle runs inv and returns the reply to send.
func (c *Commands) Handle(ctx context.Context, inv Invocation) Reply {
	var (
		reply Reply
		err   error
	)
	switch inv.Command {
	case "set_location":
		reply, err = c.setLocation(ctx, inv)
	case "set_coords":
		reply, err = c.setCoords(ctx, inv)
	case "unset_location":
		reply, err = c.unsetLocation(ctx, inv)
	case "location":
		reply, err = c.location(ctx, inv)
	case "find_coordinates":
		reply, err = c.findCoordinates(ctx, inv)
	default:
		if kind, ok := ChartKind(inv.Command); ok {
			reply, err = c.forecast(ctx, inv, kind)
			break
		}
		c.log.Warn("discord: unknown command", zap.String("command", inv.Command))
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return ephemeral("Unknown command.")
	}

	outcome := "ok"
	var re *replyError
	switch {
	case err == nil:
	case errors.As(err, &re):
		outcome = "rejected"
		reply = ephemeral("%s", re.msg)
		if re.err != nil {
			outcome = "error"
			c.log.Warn("discord: command failed",
				zap.String("command", inv.Command),
				zap.String("domain", inv.Domain),
				zap.String("owner", inv.Owner),
				zap.Error(re.err))
		}
	default:
		outcome = "error"
		c.log.Error("discord: command failed",
			zap.String("command", inv.Command),
			zap.String("domain", inv.Domain),
			zap.String("owner", inv.Owner),
			zap.Error(err))
		reply = ephemeral(genericFailure)
	}
	metrics.CommandsTotal.WithLabelValues(inv.Command, outcome).Inc()
	return reply
}

func (c *Commands) setLocation(ctx context.Context, inv Invocation) (Reply, error) {
	name := strings.TrimSpace(inv.Options["location"])
	if name == "" {
		return Reply{}, rejectf("Missing argument")
	}
	place, err := c.geocoder.Geocode(ctx, name)
	if err != nil {
		return Reply{}, lookupFailed(name, err)
	}

	loc := place.Location()
	if err := c.save(ctx, inv, loc); err != nil {
		return Reply{}, err
	}
	return ephemeral("Location set to %s (%s), country: %s, feature code: %s",
		loc.Name(), loc.Coordinates, loc.CountryName(), loc.Feature()), nil
}

func (c *Commands) setCoords(ctx context.Context, inv Invocation) (Reply, error) {
	coords, err := models.ParseCoordinates(inv.Options["coordinates"])
	if err != nil {
		return Reply{}, rejectf("Couldn't read those coordinates. Use decimal degrees like `48.85, 2.35` or `48°51′N 2°21′E`.")
	}
	loc := models.CoordinatesLocation(coords.Latitude, coords.Longitude)
	if err := c.save(ctx, inv, loc); err != nil {
		return Reply{}, err
	}
	return ephemeral("Location set to %s", loc.Coordinates), nil
}

func (c *Commands) save(ctx context.Context, inv Invocation, loc models.Location) error {
	if err := c.registry.SetLocation(ctx, inv.Domain, inv.Owner, loc); err != nil {
		return err
	}
	c.log.Info("discord: location set",
		zap.String("domain", inv.Domain),
		zap.String("owner", inv.Owner),
		zap.Stringer("coordinates", loc.Coordinates))
	c.locationChanged(ctx, inv)
	return nil
}

func (c *Commands) unsetLocation(ctx context.Context, inv Invocation) (Reply, error) {
	removed, err := c.registry.DeleteLocation(ctx, inv.Domain, inv.Owner)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return ephemeral("You had no location set."), nil
	}
	c.locationChanged(ctx, inv)
	return ephemeral("Successfully unset location."), nil
}

func (c *Commands) location(ctx context.Context, inv Invocation) (Reply, error) {
	loc, err := c.registry.GetLocation(ctx, inv.Domain, inv.Owner)
	if err != nil {
		return Reply{}, err
	}
	if loc == nil {
		return Reply{}, rejectf("%s", delivery.UserMessage(delivery.ErrNoLocationSet))
	}
	if !loc.Named() {
		return ephemeral("Your location is %s", loc.Coordinates), nil
	}
	return ephemeral("Your location is %s (%s), feature code: %s", loc.Label(), loc.Coordinates, loc.Feature()), nil
}

func (c *Commands) forecast(ctx context.Context, inv Invocation, kind chart.Kind) (Reply, error) {
	req := delivery.Request{
		Domain:  inv.Domain,
		Owner:   inv.Owner,
		Kind:    kind,
		Trigger: "command",
	}
	if arg := strings.TrimSpace(inv.Options["place"]); arg != "" {
		loc, err := c.geocoder.Resolve(ctx, arg)
		if err != nil {
			return Reply{}, lookupFailed(arg, err)
		}
		req.Location = &loc
	}

	ch, err := c.charts.Render(ctx, req)
	if err != nil {
		// The pipeline has already logged and recorded the failure.
		if !delivery.Generic(err) {
			return Reply{}, rejectf("%s", delivery.UserMessage(err))
		}
		return Reply{}, &replyError{msg: delivery.UserMessage(err), err: err}
	}
	return Reply{
		Content: ch.Caption,
		File:    &Attachment{Name: ch.FileName, Data: ch.Image},
	}, nil
}

func (c *Commands) findCoordinates(ctx context.Context, inv Invocation) (Reply, error) {
	name := strings.TrimSpace(inv.Options["location"])
	place, err := c.geocoder.Geocode(ctx, name)
	if err != nil {
		return Reply{}, lookupFailed(name, err)
	}

	population := "unknown"
	if place.Population != nil {
		population = humanize.Comma(*place.Population)
	}
	return ephemeral("Name: %s, population: %s, latitude: %v, longitude: %v, feature code: %s, country: %s",
		place.Name, population, place.Latitude, place.Longitude, place.FeatureCode, place.Country), nil
}

func (c *Commands) refreshGauge(ctx context.Context) {
	n, err := c.registry.CountLocations(ctx)
	if err != nil {
		c.log.Warn("discord: failed to count locations", zap.Error(err))
		return
	}
	metrics.LocationsRegistered.Set(float64(n))
}
