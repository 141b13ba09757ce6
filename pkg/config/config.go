// Package config loads SD Submit configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// OIDCConfig holds the settings for the AAI authorization-code flow.
type OIDCConfig struct {
	URL          string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	SecureCookie bool
}

// ServiceConfig holds the settings shared by the external service clients.
type ServiceConfig struct {
	URL     string
	User    string
	Key     string
	Token   string
	Enabled bool
}

// S3Config holds the object storage settings for the file provider.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	ProjectID       string
}

// LDAPConfig holds the CSC LDAP settings for project membership lookups.
type LDAPConfig struct {
	Host     string
	User     string
	Password string
}

// Config is the full process configuration, assembled once at startup and
// passed down by injection. Nothing reads the environment after New returns.
type Config struct {
	DatabaseURL string
	BaseURL     string
	JWTSecret   string

	OIDC OIDCConfig

	Datacite          ServiceConfig
	DataciteDOIPrefix string
	PID               ServiceConfig
	Metax             ServiceConfig
	REMS              ServiceConfig
	REMSDiscoveryURL  string
	ROR               ServiceConfig
	Admin             ServiceConfig
	Keystone          ServiceConfig

	S3   S3Config
	LDAP LDAPConfig
}

// New reads the environment and returns the process configuration.
// Missing required settings are reported as a single error.
func New() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("OIDC_SCOPE", "openid profile email")
	v.SetDefault("OIDC_SECURE_COOKIE", true)
	v.SetDefault("S3_REGION", "us-east-1")

	cfg := &Config{
		DatabaseURL: v.GetString("DATABASE_URL"),
		BaseURL:     strings.TrimSuffix(v.GetString("BASE_URL"), "/"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		OIDC: OIDCConfig{
			URL:          v.GetString("OIDC_URL"),
			ClientID:     v.GetString("AAI_CLIENT_ID"),
			ClientSecret: v.GetString("AAI_CLIENT_SECRET"),
			RedirectURL:  v.GetString("REDIRECT_URL"),
			Scope:        v.GetString("OIDC_SCOPE"),
			SecureCookie: v.GetBool("OIDC_SECURE_COOKIE"),
		},
		Datacite: ServiceConfig{
			URL:     v.GetString("DATACITE_API"),
			User:    v.GetString("DATACITE_USER"),
			Key:     v.GetString("DATACITE_KEY"),
			Enabled: v.GetString("DATACITE_API") != "",
		},
		DataciteDOIPrefix: v.GetString("DATACITE_DOI_PREFIX"),
		PID: ServiceConfig{
			URL:     v.GetString("CSC_PID_URL"),
			Key:     v.GetString("CSC_PID_KEY"),
			Enabled: v.GetString("CSC_PID_URL") != "",
		},
		Metax: ServiceConfig{
			URL:     v.GetString("METAX_URL"),
			Token:   v.GetString("METAX_TOKEN"),
			Enabled: v.GetString("METAX_URL") != "",
		},
		REMS: ServiceConfig{
			URL:     v.GetString("REMS_URL"),
			User:    v.GetString("REMS_USER"),
			Key:     v.GetString("REMS_KEY"),
			Enabled: v.GetString("REMS_URL") != "",
		},
		REMSDiscoveryURL: v.GetString("REMS_DISCOVERY_URL"),
		ROR: ServiceConfig{
			URL:     v.GetString("ROR_URL"),
			Enabled: v.GetString("ROR_URL") != "",
		},
		Admin: ServiceConfig{
			URL:     v.GetString("ADMIN_URL"),
			Enabled: v.GetString("ADMIN_URL") != "",
		},
		Keystone: ServiceConfig{
			URL:     v.GetString("KEYSTONE_URL"),
			Enabled: v.GetString("KEYSTONE_URL") != "",
		},
		S3: S3Config{
			AccessKeyID:     v.GetString("STATIC_S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("STATIC_S3_SECRET_ACCESS_KEY"),
			Region:          v.GetString("S3_REGION"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			ProjectID:       v.GetString("SD_SUBMIT_PROJECT_ID"),
		},
		LDAP: LDAPConfig{
			Host:     v.GetString("CSC_LDAP_HOST"),
			User:     v.GetString("CSC_LDAP_USER"),
			Password: v.GetString("CSC_LDAP_PASSWORD"),
		},
	}

	if cfg.RedirectURL() == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("BASE_URL or REDIRECT_URL must be set")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	return cfg, nil
}

// RedirectURL returns the OIDC callback URL, derived from BASE_URL when
// REDIRECT_URL is not set explicitly.
func (c *Config) RedirectURL() string {
	if c.OIDC.RedirectURL != "" {
		return c.OIDC.RedirectURL
	}
	if c.BaseURL == "" {
		return ""
	}
	return c.BaseURL + "/callback"
}
