package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/models"
)

// DefaultNarrationTimeout bounds how long a caption waits for a narrator.
const DefaultNarrationTimeout = 10 * time.Second

// Narrator turns a forecast summary into a short sentence of prose.
type Narrator interface {
	Narrate(ctx context.Context, s Summary) (string, error)
}

// Captioner writes chart captions. Without a narrator the caption is the
// deterministic summary line; with one, the narration is appended when it
// arrives in time.
type Captioner struct {
	narrator Narrator
	timeout  time.Duration
	log      *zap.Logger
}

func NewCaptioner(log *zap.Logger) *Captioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Captioner{timeout: DefaultNarrationTimeout, log: log}
}

// SetNarrator enables prose narration under the summary line.
func (c *Captioner) SetNarrator(n Narrator, timeout time.Duration) {
	c.narrator = n
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Captioner) Caption(ctx context.Context, kind chart.Kind, loc models.Location, series *models.ForecastSeries) string {
	summary := Summarize(kind, loc, series)
	line := summary.String()
	if c.narrator == nil {
		return line
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.narrator.Narrate(ctx, summary)
	if err != nil {
		c.log.Warn("narrative: narration failed, using summary only",
			zap.String("place", summary.Place), zap.Error(err))
		return line
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return line
	}
	return fmt.Sprintf("%s\n%s", line, text)
}
