// Package cron parses the schedules maintainers run on.
//
// Standard five-field expressions are accepted, as are the robfig/cron
// descriptors such as "@hourly" and "@every 30s". Sub-minute sweeps are only
// expressible with "@every".
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrEmptyExpression is returned for a blank schedule expression.
var ErrEmptyExpression = errors.New("empty schedule expression")

const fields = cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

type Parser struct {
	std cron.Parser
}

func NewParser() *Parser {
	return &Parser{std: cron.NewParser(fields)}
}

// Parse reads expr and evaluates it in the named location. An empty location
// means UTC.
func (p *Parser) Parse(expr, location string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}

	loc := time.UTC
	if location != "" {
		var err error
		if loc, err = time.LoadLocation(location); err != nil {
			return nil, fmt.Errorf("schedule %q: location %q: %w", expr, location, err)
		}
	}

	inner, err := p.std.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return &Schedule{expr: expr, loc: loc, inner: inner}, nil
}

// Schedule is a parsed expression bound to a location.
type Schedule struct {
	expr  string
	loc   *time.Location
	inner cron.Schedule
}

// Next returns the first activation strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc))
}

func (s *Schedule) String() string {
	return s.expr + " (" + s.loc.String() + ")"
}
