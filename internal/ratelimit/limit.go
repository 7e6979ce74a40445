package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limit is the sliding-window budget for one service
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.MaxRequests, l.Window)
}

// Config holds the default limit and optional per-service overrides
type Config struct {
	Default   Limit
	Overrides map[string]Limit
}

// ParseOverrides parses "service:max/window" pairs separated by commas,
// e.g. "whatsapp:80/1s,email:10/500ms"
func ParseOverrides(raw string) (map[string]Limit, error) {
	out := make(map[string]Limit)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		service, rule, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(service) == "" {
			return nil, fmt.Errorf("invalid rate limit override %q: expected service:max/window", part)
		}
		maxRaw, windowRaw, ok := strings.Cut(rule, "/")
		if !ok {
			return nil, fmt.Errorf("invalid rate limit override %q: expected max/window", part)
		}

		maxRequests, err := strconv.Atoi(strings.TrimSpace(maxRaw))
		if err != nil || maxRequests < 0 {
			return nil, fmt.Errorf("invalid max requests in override %q", part)
		}
		window, err := time.ParseDuration(strings.TrimSpace(windowRaw))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid window in override %q", part)
		}

		out[strings.TrimSpace(service)] = Limit{MaxRequests: maxRequests, Window: window}
	}
	return out, nil
}

func (c Config) validate() error {
	if c.Default.MaxRequests < 0 {
		return fmt.Errorf("max requests must not be negative, got %d", c.Default.MaxRequests)
	}
	if c.Default.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Default.Window)
	}
	for service, l := range c.Overrides {
		if l.MaxRequests < 0 || l.Window <= 0 {
			return fmt.Errorf("invalid limit %s for service %s", l, service)
		}
	}
	return nil
}
