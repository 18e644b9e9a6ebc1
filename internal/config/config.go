package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Policy    PolicyConfig    `yaml:"policy"`
	Sources   []SourceConfig  `yaml:"sources"`
	Directory DirectoryConfig `yaml:"directory"`
	Storage   *StorageConfig  `yaml:"storage,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains server settings
type ServerConfig struct {
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"` // external base URL, used for ACS/callback URLs
}

// AuthConfig contains session token settings
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// PolicyConfig is the reconciliation policy: which assertion attributes map
// to the local profile, whether accounts are created automatically, and the
// group membership rule tables.
type PolicyConfig struct {
	UsernameAttr       string `yaml:"username_attr"`
	RealNameAttr       string `yaml:"realname_attr,omitempty"`
	MailAttr           string `yaml:"mail_attr,omitempty"`
	MailRequired       bool   `yaml:"mail_required"`
	CreateUsers        bool   `yaml:"create_users"`
	ConfirmSyncedEmail bool   `yaml:"confirm_synced_email"`

	// GroupRules is evaluated before GroupRegexRules; when a group appears
	// in both tables the regex table decides its final membership.
	GroupRules      []GroupRule      `yaml:"group_rules,omitempty"`
	GroupRegexRules []GroupRegexRule `yaml:"group_regex_rules,omitempty"`
}

// GroupRule grants or revokes one group from exact attribute values.
type GroupRule struct {
	Group   string           `yaml:"group"`
	AddOnly bool             `yaml:"add_only"`
	Match   []AttributeMatch `yaml:"match"`
}

// AttributeMatch accepts an attribute when any assertion value is in Values.
type AttributeMatch struct {
	Attribute string   `yaml:"attribute"`
	Values    []string `yaml:"values"`
}

// GroupRegexRule grants or revokes one group from regex-matched attribute values.
type GroupRegexRule struct {
	Group   string             `yaml:"group"`
	AddOnly bool               `yaml:"add_only"`
	Match   []AttributePattern `yaml:"match"`
}

// AttributePattern accepts an attribute when any assertion value matches Pattern.
type AttributePattern struct {
	Attribute string `yaml:"attribute"`
	Pattern   string `yaml:"pattern"`
}

// SourceConfig describes one assertion source (saml, oidc or static)
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Enabled bool              `yaml:"enabled"`
	Config  map[string]string `yaml:"config,omitempty"`
	Users   []StaticUser      `yaml:"users,omitempty"` // static source only
}

// StaticUser is a development/test identity with a fixed attribute bag
type StaticUser struct {
	Username   string              `yaml:"username"`
	Password   string              `yaml:"password"`
	Attributes map[string][]string `yaml:"attributes"`
}

// DirectoryConfig selects the account directory backend
type DirectoryConfig struct {
	Type   string            `yaml:"type"` // memory, postgres, ldap
	Config map[string]string `yaml:"config,omitempty"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	AuditLogPath string `yaml:"audit_log_path"`
	LogLevel     string `yaml:"log_level"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// MarshalConfig serializes a configuration back to YAML.
func MarshalConfig(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// ParseConfig parses YAML configuration bytes, applies defaults and validates.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = 24 * time.Hour
	}
	if c.Directory.Type == "" {
		c.Directory.Type = "memory"
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "info"
	}
	if c.Logging.AuditLogPath == "" {
		c.Logging.AuditLogPath = "audit.log"
	}
}

// Validate checks the configuration for errors that would otherwise only
// surface at request time: a missing username attribute, uncompilable group
// patterns, and unknown backend or source types.
func (c *Config) Validate() error {
	if c.Policy.UsernameAttr == "" {
		return fmt.Errorf("policy.username_attr is required")
	}

	for _, rule := range c.Policy.GroupRegexRules {
		for _, m := range rule.Match {
			if _, err := regexp.Compile(m.Pattern); err != nil {
				return fmt.Errorf("invalid pattern %q for group %q: %w", m.Pattern, rule.Group, err)
			}
		}
	}

	switch c.Directory.Type {
	case "memory", "postgres", "ldap":
	default:
		return fmt.Errorf("unknown directory type %q", c.Directory.Type)
	}

	for _, src := range c.Sources {
		switch src.Type {
		case "saml", "oidc", "static":
		default:
			return fmt.Errorf("unknown source type %q (name: %s)", src.Type, src.Name)
		}
	}

	return nil
}
