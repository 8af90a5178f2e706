// Package config provides functionality for managing configuration options
// for the bot using command-line flags, a config file and environment
// variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `yaml:"address"`

	// DatabaseDSN holds the audit database connection string. Empty disables
	// the audit trail.
	DatabaseDSN string `yaml:"database_dsn"`

	// Config is the path to the config file.
	Config string `yaml:"-"`

	PanelURL  string `yaml:"panel_url"`
	PanelUser string `yaml:"panel_user"`
	PanelPass string `yaml:"panel_pass"`

	// AdminID is the chat identity allowed to run privileged commands.
	AdminID string `yaml:"admin_id"`

	// TLS files. When all three are set the server requires client
	// certificates signed by TLSCA.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	TLSCA   string `yaml:"tls_ca"`

	// AllowInsecure lets a plain HTTP server listen on a non-loopback
	// address. Caller headers are then trusted from anyone who can connect.
	AllowInsecure bool `yaml:"allow_insecure"`

	PanelTimeout   time.Duration `yaml:"panel_timeout"`
	CreateDelay    time.Duration `yaml:"create_delay"`
	MenuTTL        time.Duration `yaml:"menu_ttl"`
	AuditRetention time.Duration `yaml:"audit_retention"`

	LogLevel string `yaml:"log_level"`

	// Owners maps chat caller ids to panel user names for listvps.
	Owners map[string]string `yaml:"owners"`
}

// TLSEnabled reports whether all TLS files are configured.
func (o *Options) TLSEnabled() bool {
	return o.TLSCert != "" && o.TLSKey != "" && o.TLSCA != ""
}

// Validate checks that the panel can be reached with the configured values.
func (o *Options) Validate() error {
	var errs []error
	if o.PanelURL == "" {
		errs = append(errs, errors.New("panel url is required"))
	}
	if o.PanelUser == "" || o.PanelPass == "" {
		errs = append(errs, errors.New("panel user and password are required"))
	}
	if o.PanelTimeout <= 0 {
		errs = append(errs, fmt.Errorf("panel timeout must be positive, got %s", o.PanelTimeout))
	}
	if o.MenuTTL <= 0 {
		errs = append(errs, fmt.Errorf("menu ttl must be positive, got %s", o.MenuTTL))
	}
	if o.CreateDelay < 0 {
		errs = append(errs, fmt.Errorf("create delay must not be negative, got %s", o.CreateDelay))
	}
	return errors.Join(errs...)
}

func newFlagSet(o *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("gvmbot", flag.ContinueOnError)
	fs.StringVar(&o.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&o.DatabaseDSN, "d", "", "audit db address")
	fs.StringVar(&o.Config, "config", "config.json", "path to config file")
	fs.StringVar(&o.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&o.PanelURL, "panel", "", "panel base url")
	fs.StringVar(&o.AdminID, "admin", "", "chat id of the admin")
	fs.StringVar(&o.TLSCert, "tls-cert", "", "server certificate")
	fs.StringVar(&o.TLSKey, "tls-key", "", "server private key")
	fs.StringVar(&o.TLSCA, "tls-ca", "", "CA for client certificates")
	fs.BoolVar(&o.AllowInsecure, "allow-insecure", false, "serve plain HTTP on a non-loopback address")
	fs.DurationVar(&o.PanelTimeout, "panel-timeout", 30*time.Second, "timeout of one panel request")
	fs.DurationVar(&o.CreateDelay, "create-delay", 10*time.Second, "wait before a created VPS is reported")
	fs.DurationVar(&o.MenuTTL, "menu-ttl", 5*time.Minute, "menu inactivity timeout")
	fs.DurationVar(&o.AuditRetention, "audit-retention", 30*24*time.Hour, "how long audit rows are kept")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level")
	return fs
}

// ParseArgs builds Options from args, the config file and the environment
// read through getenv. Precedence, lowest first: flag defaults, config file,
// explicit flags, environment.
func ParseArgs(args []string, getenv func(string) string) (*Options, error) {
	o := &Options{}
	fs := newFlagSet(o)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}

	if o.Config != "" {
		if _, err := os.Stat(o.Config); err == nil {
			data, err := os.ReadFile(o.Config)
			if err != nil {
				return nil, fmt.Errorf("error while reading config file: %w", err)
			}
			path := o.Config
			if err := yaml.Unmarshal(data, o); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
			o.Config = path
			// Flags given on the command line win over the file.
			if err := fs.Parse(args); err != nil {
				return nil, err
			}
		}
	}

	env := map[string]*string{
		"SERVER_ADDRESS": &o.Port,
		"DATABASE_DSN":   &o.DatabaseDSN,
		"PANEL_URL":      &o.PanelURL,
		"PANEL_USER":     &o.PanelUser,
		"PANEL_PASS":     &o.PanelPass,
		"ADMIN_ID":       &o.AdminID,
		"LOG_LEVEL":      &o.LogLevel,
	}
	for key, dst := range env {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	return o, nil
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It exits the process if they cannot be parsed.
func Parse() *Options {
	o, err := ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return o
}
