package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

const clockDescription = "Retrieves the current date and time. Can provide formatted output and support for UTC time."

// DefaultClockLayout is used when no format is requested.
const DefaultClockLayout = "2006-01-02 15:04:05 MST"

// Clock reports the current date and time.
type Clock struct {
	now func() time.Time
}

func NewClock() *Clock { return &Clock{now: time.Now} }

// NewClockAt returns a Clock that reads time from now instead of the system clock.
func NewClockAt(now func() time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Name() string        { return "datetime" }
func (c *Clock) Description() string { return clockDescription }
func (c *Clock) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"format": {
				"type": "string",
				"description": "Optional output format: a strftime pattern such as '%Y-%m-%d %H:%M' or a Go layout such as '2006-01-02 15:04'"
			},
			"utc": {
				"type": "boolean",
				"description": "Whether to use UTC instead of local time"
			},
			"timezone": {
				"type": "string",
				"description": "Optional IANA time zone name, e.g. 'Europe/Berlin'. Ignored when utc is true"
			}
		}
	}`)
}

func (c *Clock) Execute(_ context.Context, args map[string]any) (string, error) {
	format, err := optionalString(args, "format")
	if err != nil {
		return "", err
	}
	zone, err := optionalString(args, "timezone")
	if err != nil {
		return "", err
	}
	utc := false
	if v, ok := args["utc"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return "", invalidArgs("utc must be a boolean")
		}
		utc = b
	}

	now := c.now()
	switch {
	case utc:
		now = now.UTC()
	case zone != "":
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return "", invalidArgs("unknown timezone %q", zone)
		}
		now = now.In(loc)
	default:
		now = now.Local()
	}

	return formatTime(now, format)
}

func formatTime(t time.Time, format string) (string, error) {
	if format == "" {
		return t.Format(DefaultClockLayout), nil
	}
	if !strings.Contains(format, "%") {
		return t.Format(format), nil
	}
	out, err := strftime.Format(format, t)
	if err != nil {
		return "", invalidArgs("format %q: %v", format, err)
	}
	return out, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgs("%s must be a string, got %T", key, v)
	}
	return strings.TrimSpace(s), nil
}

