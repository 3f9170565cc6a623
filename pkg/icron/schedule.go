package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five-field expressions, an optional leading seconds
// field and descriptors such as "@every 5m" or "@hourly".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Expression string

	TimeUntilNext time.Duration
}

// New returns a cron runner that understands the same expressions as Parse.
func New(opts ...cron.Option) *cron.Cron {
	return cron.New(append([]cron.Option{cron.WithParser(Parser)}, opts...)...)
}

func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return schedule, nil
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}
