package cronparser

import (
	"fmt"
	"strings"
	"time"

	cron "github.com/netresearch/go-cron"
)

var _parser = cron.MustNewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule yields reconcile run times.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Parser turns reconcile schedule expressions into schedules.
type Parser struct {
	tz string
}

// New creates a parser that evaluates expressions in tz, UTC when empty.
func New(tz string) *Parser {
	return &Parser{tz: tz}
}

// Parse accepts five-field cron expressions and descriptors such as "@hourly".
// An inline CRON_TZ= or TZ= prefix overrides the parser time zone.
func (p *Parser) Parse(spec string) (Schedule, error) {
	schedule, err := _parser.Parse(withTZ(strings.TrimSpace(spec), p.tz))
	if err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", spec, err)
	}

	return schedule, nil
}

// NextAfter returns the next occurrence of spec strictly after `after`.
func (p *Parser) NextAfter(spec string, after time.Time) (time.Time, error) {
	schedule, err := p.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(after), nil
}

func withTZ(spec, tz string) string {
	if strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") {
		return spec
	}

	if tz == "" {
		tz = "UTC"
	}

	return "CRON_TZ=" + tz + " " + spec
}
