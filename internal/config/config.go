package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/devblac/payout-reconciler/internal/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEvent is the payout contract event that records a payout entry.
const DefaultEvent = "PayoutAdded"

// Config holds the YAML configuration.
type Config struct {
	Version int          `yaml:"version"`
	Global  GlobalConfig `yaml:"global"`
	Network Network      `yaml:"network"`
	Payouts Payouts      `yaml:"payouts"`
	Token   Token        `yaml:"token"`
	ABIDirs []string     `yaml:"abi_dirs"`
	Sinks   []Sink       `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath      string `yaml:"db_path"`
	MetricsFile string `yaml:"metrics_file"`
}

type Network struct {
	RPCURL       string `yaml:"rpc_url"`
	MaxBlockSpan uint64 `yaml:"max_block_span"`
}

type Payouts struct {
	Manifest  string `yaml:"manifest"`
	Contract  string `yaml:"contract"`
	Event     string `yaml:"event"`
	FromBlock uint64 `yaml:"from_block"`
	// ToBlock of 0 means the chain head at query time.
	ToBlock uint64 `yaml:"to_block"`
}

type Token struct {
	// Address may be empty; the token is then read from the payout contract.
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals *uint8 `yaml:"decimals"`
}

type Sink struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	WebhookURL string   `yaml:"webhook_url"`
	Template   string   `yaml:"template"`
	URL        string   `yaml:"url"`
	Method     string   `yaml:"method"`
	NotifyOn   []string `yaml:"notify_on"`
}

// Statuses a sink may subscribe to via notify_on.
var notifyStatuses = map[string]struct{}{
	"match":     {},
	"shortfall": {},
	"surplus":   {},
	"mismatch":  {},
	"error":     {},
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.resolvePaths(filepath.Dir(path))
	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

// interpolateEnv substitutes ${VAR} references. Comment lines are left
// untouched so commented-out examples never require their variables.
func interpolateEnv(input string) (string, error) {
	missing := []string{}
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = envPattern.ReplaceAllStringFunc(line, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			missing = append(missing, name)
			return match
		})
	}

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return strings.Join(lines, "\n"), nil
}

// resolvePaths makes relative file paths relative to the config file.
func (c *Config) resolvePaths(base string) {
	c.Payouts.Manifest = relTo(base, c.Payouts.Manifest)
	c.Global.DBPath = relTo(base, c.Global.DBPath)
	c.Global.MetricsFile = relTo(base, c.Global.MetricsFile)
	for i, d := range c.ABIDirs {
		c.ABIDirs[i] = relTo(base, d)
	}
}

func relTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate performs small, direct schema checks and fills defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if err := c.Payouts.Validate(); err != nil {
		return fmt.Errorf("payouts: %w", err)
	}
	if err := c.Token.Validate(); err != nil {
		return fmt.Errorf("token: %w", err)
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}
	return nil
}

func (n *Network) Validate() error {
	if n.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if strings.HasSuffix(n.RPCURL, ".ipc") {
		return nil
	}
	u, err := url.Parse(n.RPCURL)
	if err != nil {
		return fmt.Errorf("parse rpc_url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
		return nil
	default:
		return fmt.Errorf("unsupported rpc_url scheme %q", u.Scheme)
	}
}

func (p *Payouts) Validate() error {
	if p.Manifest == "" {
		return errors.New("manifest is required")
	}
	if !common.IsHexAddress(p.Contract) {
		return fmt.Errorf("contract %q is not a hex address", p.Contract)
	}
	if p.Event == "" {
		p.Event = DefaultEvent
	}
	if p.ToBlock != 0 && p.ToBlock < p.FromBlock {
		return fmt.Errorf("to_block %d is before from_block %d", p.ToBlock, p.FromBlock)
	}
	return nil
}

func (t *Token) Validate() error {
	if t.Address != "" && !common.IsHexAddress(t.Address) {
		return fmt.Errorf("address %q is not a hex address", t.Address)
	}
	if t.Decimals == nil {
		d := units.DefaultDecimals
		t.Decimals = &d
	}
	if *t.Decimals > units.MaxDecimals {
		return fmt.Errorf("decimals %d out of range", *t.Decimals)
	}
	if t.Symbol == "" {
		t.Symbol = "DAI"
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}

	for _, st := range s.NotifyOn {
		if _, ok := notifyStatuses[strings.ToLower(st)]; !ok {
			return fmt.Errorf("unknown notify_on status: %s", st)
		}
	}
	return nil
}

// Wants reports whether the sink should be notified for status.
// An empty notify_on subscribes to everything except an exact match.
func (s *Sink) Wants(status string) bool {
	if len(s.NotifyOn) == 0 {
		return !strings.EqualFold(status, "match")
	}
	for _, st := range s.NotifyOn {
		if strings.EqualFold(st, status) {
			return true
		}
	}
	return false
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
