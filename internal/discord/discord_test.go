package discord

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/ingest"
	"github.com/lox/forecastbot/internal/models"
	"github.com/lox/forecastbot/internal/store"
)

type fakeGeocoder struct {
	places map[string]ingest.Place
	err    error
}

func (g *fakeGeocoder) Geocode(ctx context.Context, name string) (*ingest.Place, error) {
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.places[name]
	if !ok {
		return nil, ingest.ErrNoResults
	}
	return &p, nil
}

func (g *fakeGeocoder) Resolve(ctx context.Context, arg string) (models.Location, error) {
	if c, err := models.ParseCoordinates(arg); err == nil {
		return models.CoordinatesLocation(c.Latitude, c.Longitude), nil
	}
	p, err := g.Geocode(ctx, arg)
	if err != nil {
		return models.Location{}, err
	}
	return p.Location(), nil
}

type fakeFetcher struct {
	coords []models.Coordinates
	days   []int
	hours  []int
	err    error
}

func (f *fakeFetcher) FetchHourly(ctx context.Context, coords models.Coordinates, hours int) (*models.ForecastSeries, error) {
	f.coords = append(f.coords, coords)
	f.hours = append(f.hours, hours)
	if f.err != nil {
		return nil, f.err
	}
	start := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	s := &models.ForecastSeries{Start: start, Step: time.Hour, Zone: time.UTC}
	temps := make([]float64, hours)
	for i := range temps {
		s.Times = append(s.Times, start.Add(time.Duration(i)*time.Hour))
		temps[i] = 10 + 5*math.Sin(float64(i)/4)
	}
	s.Channels = []models.Channel{{Kind: models.ChannelTemperature, Unit: "°C", Values: temps}}
	return s, nil
}

func (f *fakeFetcher) FetchDaily(ctx context.Context, coords models.Coordinates, days int) (*models.ForecastSeries, error) {
	f.coords = append(f.coords, coords)
	f.days = append(f.days, days)
	if f.err != nil {
		return nil, f.err
	}
	start := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	s := &models.ForecastSeries{Start: start, Step: 24 * time.Hour, Zone: time.UTC}
	highs := make([]float64, days)
	for i := range highs {
		s.Times = append(s.Times, start.AddDate(0, 0, i))
		highs[i] = 15 + float64(i%4)
	}
	s.Channels = []models.Channel{{Kind: models.ChannelTemperatureMax, Unit: "°C", Values: highs}}
	return s, nil
}

var population = int64(2138551)

type harness struct {
	store   *store.Store
	fetcher *fakeFetcher
	geo     *fakeGeocoder
	cmds    *Commands
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db, nil)
	require.NoError(t, st.Migrate())

	fonts, err := chart.LoadDefaultFonts()
	require.NoError(t, err)

	h := &harness{
		store:   st,
		fetcher: &fakeFetcher{},
		geo: &fakeGeocoder{places: map[string]ingest.Place{
			"Paris": {Name: "Paris", Latitude: 48.85, Longitude: 2.35, FeatureCode: "PPLC", Country: "France", Population: &population},
		}},
	}
	pipeline := delivery.NewPipeline(st, h.fetcher, chart.NewRenderer(fonts, chart.DefaultConfig()), nil)
	h.cmds = NewCommands(st, h.geo, pipeline, nil)
	return h
}

func (h *harness) run(command string, opts map[string]string) Reply {
	return h.cmds.Handle(context.Background(), Invocation{Command: command, Domain: "guildA", Owner: "alice", Options: opts})
}

func TestCommands_SetLocation(t *testing.T) {
	h := newHarness(t)

	reply := h.run("set_location", map[string]string{"location": "Paris"})
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, "Location set to Paris (48.85, 2.35), country: France, feature code: PPLC", reply.Content)

	loc, err := h.store.GetLocation(context.Background(), "GUILDA", "Alice")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "Paris", loc.Name())

	reply = h.run("location", nil)
	assert.Equal(t, "Your location is Paris, France (48.85, 2.35), feature code: PPLC", reply.Content)
}

func TestCommands_SetLocation_NotFound(t *testing.T) {
	h := newHarness(t)

	reply := h.run("set_location", map[string]string{"location": "Atlantis"})
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, `No place found matching "Atlantis".`, reply.Content)

	h.geo.err = errors.New("connection reset")
	reply = h.run("set_location", map[string]string{"location": "Paris"})
	assert.Contains(t, reply.Content, "Couldn't look up that place")

	n, err := h.store.CountLocations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommands_SetCoordsAndUnset(t *testing.T) {
	h := newHarness(t)

	reply := h.run("set_coords", map[string]string{"coordinates": "-36.794, 146.977"})
	assert.Equal(t, "Location set to -36.794, 146.977", reply.Content)

	reply = h.run("location", nil)
	assert.Equal(t, "Your location is -36.794, 146.977", reply.Content)

	reply = h.run("set_coords", map[string]string{"coordinates": "north pole"})
	assert.Contains(t, reply.Content, "Couldn't read those coordinates")

	reply = h.run("unset_location", nil)
	assert.Equal(t, "Successfully unset location.", reply.Content)
	reply = h.run("unset_location", nil)
	assert.Equal(t, "You had no location set.", reply.Content)

	reply = h.run("location", nil)
	assert.Contains(t, reply.Content, "haven't set a location")
}

func TestCommands_Hourly(t *testing.T) {
	h := newHarness(t)
	h.run("set_location", map[string]string{"location": "Paris"})

	reply := h.run("hourly", nil)
	assert.False(t, reply.Ephemeral)
	require.NotNil(t, reply.File)
	assert.Equal(t, "hourly.png", reply.File.Name)
	assert.True(t, bytes.HasPrefix(reply.File.Data, []byte("\x89PNG")))
	assert.Contains(t, reply.Content, "Paris, France")
	require.Len(t, h.fetcher.coords, 1)
	assert.Equal(t, models.Coordinates{Latitude: 48.85, Longitude: 2.35}, h.fetcher.coords[0])
}

func TestCommands_ForecastWithPlace(t *testing.T) {
	h := newHarness(t)

	reply := h.run("weekly", map[string]string{"place": "-36.794, 146.977"})
	require.NotNil(t, reply.File)
	assert.Equal(t, "weekly.png", reply.File.Name)
	assert.Equal(t, models.Coordinates{Latitude: -36.794, Longitude: 146.977}, h.fetcher.coords[0])

	reply = h.run("hourly", map[string]string{"place": "Atlantis"})
	assert.True(t, reply.Ephemeral)
	assert.Nil(t, reply.File)
	assert.Len(t, h.fetcher.coords, 1)
}

func TestCommands_HourlyErrors(t *testing.T) {
	h := newHarness(t)

	reply := h.run("hourly", nil)
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, delivery.UserMessage(delivery.ErrNoLocationSet), reply.Content)
	assert.Empty(t, h.fetcher.coords)

	h.run("set_location", map[string]string{"location": "Paris"})
	h.fetcher.err = errors.New("status 502")
	reply = h.run("hourly", nil)
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, delivery.UserMessage(&delivery.FetchError{Err: h.fetcher.err}), reply.Content)
}

func TestCommands_ChartKinds(t *testing.T) {
	h := newHarness(t)
	h.run("set_coords", map[string]string{"coordinates": "48.85, 2.35"})

	tests := []struct {
		command string
		file    string
		hours   int
		days    int
	}{
		{"daily", "daily.png", 0, 14},
		{"absolute_humidity", "absolute_humidity.png", 48, 0},
		{"soil_moisture", "soil_moisture.png", 72, 0},
	}
	for _, tt := range tests {
		h.fetcher.hours, h.fetcher.days = nil, nil
		reply := h.run(tt.command, nil)
		require.NotNil(t, reply.File, "%s: %s", tt.command, reply.Content)
		assert.Equal(t, tt.file, reply.File.Name)
		assert.True(t, bytes.HasPrefix(reply.File.Data, []byte("\x89PNG")), tt.command)
		if tt.days > 0 {
			assert.Equal(t, []int{tt.days}, h.fetcher.days, tt.command)
			assert.Empty(t, h.fetcher.hours, tt.command)
		} else {
			assert.Equal(t, []int{tt.hours}, h.fetcher.hours, tt.command)
			assert.Empty(t, h.fetcher.days, tt.command)
		}
	}
}

func TestCommands_LocationChangeHook(t *testing.T) {
	h := newHarness(t)
	var changed []string
	h.cmds.SetOnLocationChange(func(domain, owner string) {
		changed = append(changed, domain+"/"+owner)
	})

	h.run("set_location", map[string]string{"location": "Paris"})
	h.run("set_coords", map[string]string{"coordinates": "1, 2"})
	h.run("set_location", map[string]string{"location": "Atlantis"})
	h.run("unset_location", nil)
	h.run("unset_location", nil)
	h.run("location", nil)

	assert.Equal(t, []string{"guildA/alice", "guildA/alice", "guildA/alice"}, changed,
		"only successful set and unset commands change the location")
}

func TestCommands_FindCoordinates(t *testing.T) {
	h := newHarness(t)

	reply := h.run("find_coordinates", map[string]string{"location": "Paris"})
	assert.Equal(t, "Name: Paris, population: 2,138,551, latitude: 48.85, longitude: 2.35, feature code: PPLC, country: France", reply.Content)

	n, err := h.store.CountLocations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "find_coordinates must not store anything")
}

func TestCommands_StorageFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Close())

	reply := h.run("set_coords", map[string]string{"coordinates": "1, 2"})
	assert.True(t, reply.Ephemeral)
	assert.Equal(t, genericFailure, reply.Content)
}

func TestCommands_Unknown(t *testing.T) {
	h := newHarness(t)
	reply := h.run("current", nil)
	assert.Equal(t, "Unknown command.", reply.Content)
}

func TestDefinitions(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Definitions() {
		names[c.Name] = true
		assert.NotEmpty(t, c.Description, c.Name)
	}
	for _, want := range []string{"set_location", "set_coords", "unset_location", "location", "find_coordinates",
		"hourly", "weekly", "daily", "absolute_humidity", "soil_moisture"} {
		assert.True(t, names[want], want)
	}

	for _, kind := range chart.Kinds {
		got, ok := ChartKind(string(kind))
		assert.True(t, ok, kind)
		assert.Equal(t, kind, got)
	}
	_, ok := ChartKind("set_location")
	assert.False(t, ok)
}

func TestInvocation(t *testing.T) {
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "111",
		Member:  &discordgo.Member{User: &discordgo.User{ID: "222"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "hourly",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "place", Type: discordgo.ApplicationCommandOptionString, Value: "Paris"},
			},
		},
	}}
	inv := invocation(guild)
	assert.Equal(t, Invocation{Command: "hourly", Domain: "111", Owner: "222", Options: map[string]string{"place": "Paris"}}, inv)

	direct := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "333"},
		Data: discordgo.ApplicationCommandInteractionData{Name: "location"},
	}}
	inv = invocation(direct)
	assert.Equal(t, DirectDomain, inv.Domain)
	assert.Equal(t, "333", inv.Owner)
}

func TestInteractionResponse(t *testing.T) {
	r := interactionResponse(Reply{Content: "hi", Ephemeral: true})
	assert.Equal(t, discordgo.MessageFlagsEphemeral, r.Data.Flags)
	assert.Empty(t, r.Data.Files)

	r = interactionResponse(Reply{Content: "chart", File: &Attachment{Name: "hourly.png", Data: []byte("png")}})
	assert.Zero(t, r.Data.Flags)
	require.Len(t, r.Data.Files, 1)
	assert.Equal(t, "hourly.png", r.Data.Files[0].Name)
}

type fakeMessenger struct {
	channel string
	msg     *discordgo.MessageSend
	data    []byte
	err     error
}

func (m *fakeMessenger) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.channel = channelID
	m.msg = data
	m.data, _ = io.ReadAll(data.Files[0].Reader)
	return &discordgo.Message{ID: "1"}, nil
}

func TestChannelSender(t *testing.T) {
	m := &fakeMessenger{}
	s := NewChannelSender(m)

	err := s.Send(context.Background(), delivery.Delivery{Target: "discord:987", FileName: "hourly.png", Image: []byte("png"), Caption: "Hourly forecast"})
	require.NoError(t, err)
	assert.Equal(t, "987", m.channel)
	assert.Equal(t, "Hourly forecast", m.msg.Content)
	assert.Equal(t, "hourly.png", m.msg.Files[0].Name)
	assert.Equal(t, []byte("png"), m.data)

	m.err = errors.New("Missing Access")
	err = s.Send(context.Background(), delivery.Delivery{Target: "discord:987"})
	var de *delivery.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "discord:987", de.Target)
}
