package xray

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/synqronlabs/xray/auth"
	"github.com/synqronlabs/xray/dns"
	"github.com/synqronlabs/xray/rbl"
	"github.com/synqronlabs/xray/score"
	"github.com/synqronlabs/xray/storage"
)

// Duration is a time.Duration that reads "30s" style strings or
// nanoseconds from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// Config is the complete service configuration.
type Config struct {
	Listen  ListenConfig     `json:"listen"`
	DNS     DNSConfig        `json:"dns"`
	SPF     SPFConfig        `json:"spf"`
	RBL     RBLConfig        `json:"rbl"`
	Weights score.Weights    `json:"weights"`
	Storage []storage.Config `json:"storage" validate:"dive"`
	Metrics MetricsConfig    `json:"metrics"`
	Debug   bool             `json:"debug"`
}

// ListenConfig configures the SMTP listener.
type ListenConfig struct {
	Addr            string   `json:"addr" validate:"required,hostname_port"`
	Hostname        string   `json:"hostname" validate:"required"`
	MaxMessageBytes int64    `json:"max_message_bytes" validate:"gt=0"`
	MaxRecipients   int      `json:"max_recipients" validate:"gte=0"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
}

// DNSConfig selects and tunes the resolver.
type DNSConfig struct {
	// Resolver is "miekg" for the built-in client or "system" for the
	// operating system resolver.
	Resolver    string   `json:"resolver" validate:"oneof=miekg system"`
	Nameservers []string `json:"nameservers" validate:"dive,hostname_port"`
	Timeout     Duration `json:"timeout"`
	Lifetime    Duration `json:"lifetime"`
	Retries     int      `json:"retries" validate:"gte=0"`
}

// SPFConfig selects the SPF evaluator.
type SPFConfig struct {
	Evaluator string `json:"evaluator" validate:"oneof=spfquery builtin"`

	// Path of the spfquery binary. Empty means $PATH lookup.
	Path string `json:"path"`
}

// RBLConfig overrides the blocklist table when Providers is not empty.
type RBLConfig struct {
	Providers []rbl.Provider `json:"providers" validate:"dive"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration used for every field a config
// file leaves out.
func DefaultConfig() Config {
	return Config{
		Listen: ListenConfig{
			Addr:            "127.0.0.1:10031",
			Hostname:        "localhost",
			MaxMessageBytes: 10 << 20,
			MaxRecipients:   10,
			ReadTimeout:     Duration{time.Minute},
			WriteTimeout:    Duration{time.Minute},
		},
		DNS: DNSConfig{
			Resolver: "miekg",
			Timeout:  Duration{5 * time.Second},
			Lifetime: Duration{10 * time.Second},
			Retries:  2,
		},
		SPF:     SPFConfig{Evaluator: "spfquery"},
		Weights: score.DefaultWeights(),
	}
}

// LoadConfig reads the JSON file at path over DefaultConfig and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}

	b, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("xray: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			result = multierror.Append(result, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
		}
	}

	for name, d := range map[string]Duration{
		"dns.timeout":          c.DNS.Timeout,
		"dns.lifetime":         c.DNS.Lifetime,
		"listen.read_timeout":  c.Listen.ReadTimeout,
		"listen.write_timeout": c.Listen.WriteTimeout,
	} {
		if d.Duration < 0 {
			result = multierror.Append(result, fmt.Errorf("Config.%s: negative duration %s", name, d))
		}
	}

	for i, sc := range c.Storage {
		if err := sc.Check(); err != nil {
			result = multierror.Append(result, fmt.Errorf("Config.storage[%d]: %w", i, err))
		}
	}

	return result.ErrorOrNil()
}

// NewResolver builds the configured resolver.
func (c *Config) NewResolver() dns.Resolver {
	if c.DNS.Resolver == "system" {
		return dns.NewStdResolver()
	}
	return dns.NewResolver(dns.ResolverConfig{
		Nameservers: c.DNS.Nameservers,
		Timeout:     c.DNS.Timeout.Duration,
		Lifetime:    c.DNS.Lifetime.Duration,
		Retries:     c.DNS.Retries,
	})
}

// NewSPFEvaluator builds the configured SPF evaluator.
func (c *Config) NewSPFEvaluator() auth.SPFEvaluator {
	if c.SPF.Evaluator == "builtin" {
		return auth.BuiltinSPF{}
	}
	return auth.SPFQuery{Path: c.SPF.Path}
}

// OpenStore opens every configured store. No store configured means
// reports are discarded.
func (c *Config) OpenStore() (storage.Store, error) {
	return storage.Open(c.Storage...)
}

// NewTester builds a Tester from the configuration.
func (c *Config) NewTester() *Tester {
	t := NewTester(c.NewResolver(), c.NewSPFEvaluator(), c.Weights)
	if len(c.RBL.Providers) > 0 {
		t.Scanner.Providers = c.RBL.Providers
	}
	return t
}
