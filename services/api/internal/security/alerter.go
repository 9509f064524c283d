// Package security tracks failed operations per client and flags bursts
// that look like credential stuffing or token guessing.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "bookshelf:alerts"

var failureCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Rule is the threshold for one failure kind within a fixed window.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// DefaultRules covers the failure kinds worth watching on the operation endpoint.
var DefaultRules = map[string]Rule{
	"InvalidCredentials": {Threshold: 10, Window: 5 * time.Minute},
	"Conflict":           {Threshold: 10, Window: 5 * time.Minute},
	"Unauthenticated":    {Threshold: 25, Window: 5 * time.Minute},
}

// Alert is the outcome of observing one failure.
type Alert struct {
	// Triggered is set only on the failure that reaches the threshold, so
	// each client alerts at most once per window.
	Triggered bool
	Count     int64
	Rule      Rule
}

// Config configures a FailureMonitor.
type Config struct {
	Addr     string
	Password string
	Prefix   string
	Rules    map[string]Rule
	Now      func() time.Time
}

// FailureMonitor counts failures per (kind, client) in fixed Redis windows.
type FailureMonitor struct {
	client *redis.Client
	prefix string
	rules  map[string]Rule
	now    func() time.Time
}

// NewFailureMonitor connects to Redis. An empty address yields a nil monitor,
// whose methods are no-ops.
func NewFailureMonitor(cfg Config) (*FailureMonitor, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, nil
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules
	}
	for kind, r := range rules {
		if r.Threshold <= 0 || r.Window < time.Millisecond {
			return nil, fmt.Errorf("invalid alert rule for %s", kind)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FailureMonitor{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix: prefix,
		rules:  rules,
		now:    now,
	}, nil
}

// Observe records a failure of the given kind from client and reports whether
// this failure reached the rule's threshold in the current window.
func (m *FailureMonitor) Observe(ctx context.Context, kind, client string) (Alert, error) {
	if m == nil {
		return Alert{}, nil
	}
	rule, ok := m.rules[kind]
	if !ok {
		return Alert{}, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := m.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%d", m.prefix, segment(kind), segment(client), slot)
	count, err := failureCounterScript.Run(ctx, m.client, []string{key}, windowMs).Int64()
	if err != nil {
		return Alert{}, fmt.Errorf("count failure: %w", err)
	}
	return Alert{Triggered: count == rule.Threshold, Count: count, Rule: rule}, nil
}

// Close releases the Redis client.
func (m *FailureMonitor) Close() error {
	if m == nil {
		return nil
	}
	if err := m.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

var segmentReplacer = strings.NewReplacer(":", "_", "|", "_", " ", "_")

func segment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(in)
}
