package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	LDAP     LDAPConfig     `yaml:"ldap"`
	Redis    RedisConfig    `yaml:"redis"`
	Airtable AirtableConfig `yaml:"airtable"`
	Asana    AsanaConfig    `yaml:"asana"`
	Google   GoogleConfig   `yaml:"google"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Email    EmailConfig    `yaml:"email"`
	Session  SessionConfig  `yaml:"session"`
	Drafts   DraftsConfig   `yaml:"drafts"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// PublicBaseURL is used to build review links sent to approvers.
	PublicBaseURL string `yaml:"public_base_url"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	BaseDN       string `yaml:"base_dn"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	UserFilter   string `yaml:"user_filter"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// RedisConfig backs the async provisioning queue and the redis session store
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AirtableConfig struct {
	BaseURL string `yaml:"base_url"`
	BaseID  string `yaml:"base_id"`
	// APIKey is the service token used for the Drafts table. Per-user
	// provisioning calls use the caller's stored credential instead.
	APIKey           string `yaml:"api_key"`
	ProjectsTable    string `yaml:"projects_table"`
	MilestonesTable  string `yaml:"milestones_table"`
	AssignmentsTable string `yaml:"assignments_table"`
	MembersTable     string `yaml:"members_table"`
	DraftsTable      string `yaml:"drafts_table"`
}

type AsanaConfig struct {
	BaseURL      string `yaml:"base_url"`
	WorkspaceGID string `yaml:"workspace_gid"`
	TeamGID      string `yaml:"team_gid"`
	TemplateGID  string `yaml:"template_gid"`
}

type GoogleConfig struct {
	// Endpoint overrides the API root, used against local fakes.
	Endpoint         string `yaml:"endpoint"`
	SharedDriveID    string `yaml:"shared_drive_id"`
	ParentFolderID   string `yaml:"parent_folder_id"`
	DocTemplateID    string `yaml:"doc_template_id"`
	DeckTemplateID   string `yaml:"deck_template_id"`
	DocNameFormat    string `yaml:"doc_name_format"`
	DeckNameFormat   string `yaml:"deck_name_format"`
	FolderNameFormat string `yaml:"folder_name_format"`
}

// OAuthClient is the client registration used to refresh stored platform tokens.
type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

type OAuthConfig struct {
	Airtable OAuthClient `yaml:"airtable"`
	Asana    OAuthClient `yaml:"asana"`
	Google   OAuthClient `yaml:"google"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

type SessionConfig struct {
	Backend       string `yaml:"backend"` // database, redis
	TTLHours      int    `yaml:"ttl_hours"`
	RetentionDays int    `yaml:"retention_days"`
}

type DraftsConfig struct {
	Backend string `yaml:"backend"` // registry, database
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          "8080",
			Mode:          "debug",
			PublicBaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "kickoff.db",
		},
		JWT: JWTConfig{
			Secret:     "kickoff-secret-key-change-in-production",
			ExpireHour: 24,
		},
		LDAP: LDAPConfig{
			Enabled:    false,
			Port:       389,
			UserFilter: "(uid=%s)",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Airtable: AirtableConfig{
			BaseURL:          "https://api.airtable.com/v0",
			ProjectsTable:    "Projects",
			MilestonesTable:  "Milestones",
			AssignmentsTable: "Assignments",
			MembersTable:     "Members",
			DraftsTable:      "Drafts",
		},
		Asana: AsanaConfig{
			BaseURL: "https://app.asana.com/api/1.0",
		},
		Google: GoogleConfig{
			DocNameFormat:    "%s - Scoping Document",
			DeckNameFormat:   "%s - Kickoff Deck",
			FolderNameFormat: "%s",
		},
		OAuth: OAuthConfig{
			Airtable: OAuthClient{TokenURL: "https://airtable.com/oauth2/v1/token"},
			Asana:    OAuthClient{TokenURL: "https://app.asana.com/-/oauth_token"},
			Google:   OAuthClient{TokenURL: "https://oauth2.googleapis.com/token"},
		},
		Email: EmailConfig{
			Port: 587,
		},
		Session: SessionConfig{
			Backend:       "database",
			TTLHours:      24 * 14,
			RetentionDays: 30,
		},
		Drafts: DraftsConfig{
			Backend: "registry",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if baseURL := os.Getenv("PUBLIC_BASE_URL"); baseURL != "" {
		c.Server.PublicBaseURL = baseURL
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if baseID := os.Getenv("AIRTABLE_BASE_ID"); baseID != "" {
		c.Airtable.BaseID = baseID
	}
	if apiKey := os.Getenv("AIRTABLE_API_KEY"); apiKey != "" {
		c.Airtable.APIKey = apiKey
	}
	if workspace := os.Getenv("ASANA_WORKSPACE_GID"); workspace != "" {
		c.Asana.WorkspaceGID = workspace
	}
	if template := os.Getenv("ASANA_TEMPLATE_GID"); template != "" {
		c.Asana.TemplateGID = template
	}
	if docTemplate := os.Getenv("GOOGLE_DOC_TEMPLATE_ID"); docTemplate != "" {
		c.Google.DocTemplateID = docTemplate
	}
	if deckTemplate := os.Getenv("GOOGLE_DECK_TEMPLATE_ID"); deckTemplate != "" {
		c.Google.DeckTemplateID = deckTemplate
	}
	if parent := os.Getenv("GOOGLE_PARENT_FOLDER_ID"); parent != "" {
		c.Google.ParentFolderID = parent
	}
	if drive := os.Getenv("GOOGLE_SHARED_DRIVE_ID"); drive != "" {
		c.Google.SharedDriveID = drive
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		c.Email.Enabled = true
		c.Email.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Email.Port = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		c.Email.Username = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		c.Email.Password = password
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		c.Email.From = from
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
