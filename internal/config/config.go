// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
		// Name se muestra en las pantallas de consentimiento (Mastodon).
		Name string `yaml:"name"`
		// BaseURL pública del deployment, sin slash final.
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Cache struct {
		// memory | redis
		Driver   string `yaml:"driver"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"cache"`

	Storage struct {
		// memory | postgres
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Handshake struct {
		// TTL de los registros de exchange (start -> callback).
		ExchangeTTL time.Duration `yaml:"exchange_ttl"`
		// StateSecret firma el parámetro state. Vacío = sin firma.
		StateSecret string `yaml:"state_secret"`
		// AppMaxAge re-registra apps de Mastodon más viejas que esto.
		// 0 = nunca expiran.
		AppMaxAge time.Duration `yaml:"app_max_age"`
	} `yaml:"handshake"`

	// Providers: client id/secret por proveedor.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Load lee el YAML, aplica defaults y overrides por env, y valida.
// path vacío arranca con la config por defecto (todo en memoria).
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "oauth-dropins"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Handshake.ExchangeTTL == 0 {
		c.Handshake.ExchangeTTL = 15 * time.Minute
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyEnvOverrides pisa el YAML con variables de entorno. Los secretos
// de providers también se aceptan como <PROVIDER>_CLIENT_ID/SECRET.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("APP_NAME"); ok {
		c.App.Name = v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		c.App.BaseURL = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("CACHE_DRIVER"); ok {
		c.Cache.Driver = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.DB = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("STATE_SECRET"); ok {
		c.Handshake.StateSecret = v
	}
	if v, ok := getEnvDur("EXCHANGE_TTL"); ok {
		c.Handshake.ExchangeTTL = v
	}
	if v, ok := getEnvDur("APP_MAX_AGE"); ok {
		c.Handshake.AppMaxAge = v
	}

	for _, name := range providerEnvNames() {
		upper := strings.ToUpper(name)
		pc := c.Providers[name]
		changed := false
		if v, ok := getEnvStr(upper + "_CLIENT_ID"); ok {
			pc.ClientID = v
			changed = true
		}
		if v, ok := getEnvStr(upper + "_CLIENT_SECRET"); ok {
			pc.ClientSecret = v
			changed = true
		}
		if changed {
			c.Providers[name] = pc
		}
	}
}

// providerEnvNames lista los nombres que buscamos en el entorno. Debe
// cubrir el catálogo; un nombre de más no molesta.
func providerEnvNames() []string {
	return []string{
		"blogger", "bluesky", "disqus", "dropbox", "facebook", "flickr",
		"github", "google", "indieauth", "instagram", "linkedin", "mastodon",
		"medium", "meetup", "pixelfed", "reddit", "threads", "tumblr",
		"twitter", "wordpress",
	}
}

// Validate chequea la coherencia interna.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("config: cache.driver redis requiere cache.addr")
		}
	default:
		return fmt.Errorf("config: cache.driver inválido %q", c.Cache.Driver)
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.driver postgres requiere storage.dsn")
		}
	default:
		return fmt.Errorf("config: storage.driver inválido %q", c.Storage.Driver)
	}

	if c.App.BaseURL != "" && !strings.Contains(c.App.BaseURL, "://") {
		return fmt.Errorf("config: app.base_url debe ser una URL absoluta")
	}
	if strings.HasSuffix(c.App.BaseURL, "/") {
		c.App.BaseURL = strings.TrimRight(c.App.BaseURL, "/")
	}
	return nil
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	if v == "" {
		return "", false
	}
	return v, true
}

func getEnvInt(key string) (int, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvDur(key string) (time.Duration, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
