package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/kafkaauth"
	"github.com/telekom/voice-escalation/pkg/ratelimit"
)

// Environment variables overriding secrets and paths from the file.
const (
	EnvConfigPath        = "ESCALATOR_CONFIG_PATH"
	EnvTwilioAccountSID  = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken   = "TWILIO_AUTH_TOKEN"
	EnvTwilioPhoneNumber = "TWILIO_PHONE_NUMBER"
	EnvStoreDSN          = "ESCALATOR_DB_DSN"
	EnvSMTPPassword      = "SMTP_PASSWORD"
	EnvRedisPassword     = "REDIS_PASSWORD"
)

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	// PublicURL is the externally reachable base URL the call provider uses
	// for instruction and status callbacks (e.g. "https://escalator.example.com").
	PublicURL      string        `yaml:"publicURL"`
	TLSCertFile    string        `yaml:"tlsCertFile"`
	TLSKeyFile     string        `yaml:"tlsKeyFile"`
	TrustedProxies []string      `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers (e.g., ["10.0.0.0/8", "127.0.0.1"])
	CORSOrigins    []string      `yaml:"corsOrigins"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server and the
	// running escalations.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Provider configures the Twilio account calls are placed through.
type Provider struct {
	AccountSID      string        `yaml:"accountSID"`
	AuthToken       string        `yaml:"authToken"`
	PhoneNumber     string        `yaml:"phoneNumber"`
	BaseURL         string        `yaml:"baseURL"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	BreakerFailures uint32        `yaml:"breakerFailures"`
	BreakerCooldown time.Duration `yaml:"breakerCooldown"`
	Voice           string        `yaml:"voice"`
	Language        string        `yaml:"language"`
	// GatherTimeout is how many seconds a callee has to press a key.
	GatherTimeout int `yaml:"gatherTimeout"`
}

type Escalation struct {
	MaxLoops int `yaml:"maxLoops"`
	// CallTimeout is how long a call rings before the provider gives up.
	CallTimeout time.Duration `yaml:"callTimeout"`
	// ContactTimeout bounds the wait for one attempt. Defaults to
	// CallTimeout plus one minute for the callee to listen and answer.
	ContactTimeout time.Duration `yaml:"contactTimeout"`
	CallDelay      time.Duration `yaml:"callDelay"`
	LoopBackoff    time.Duration `yaml:"loopBackoff"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	// MaxConcurrent limits how many alerts escalate at the same time.
	MaxConcurrent   int    `yaml:"maxConcurrent"`
	MessageTemplate string `yaml:"messageTemplate"`
}

type Store struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type KafkaSource struct {
	Enabled bool             `yaml:"enabled"`
	Brokers []string         `yaml:"brokers"`
	Topic   string           `yaml:"topic"`
	GroupID string           `yaml:"groupID"`
	SASL    kafkaauth.Config `yaml:"sasl"`
}

type Alerts struct {
	// PollInterval is how often the alert sources are polled.
	PollInterval time.Duration `yaml:"pollInterval"`
	// QueueSize bounds the in-process queue fed by the trigger endpoint.
	QueueSize int         `yaml:"queueSize"`
	Kafka     KafkaSource `yaml:"kafka"`
}

// Contact is one member of the escalation chain. Active defaults to true.
type Contact struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Phone  string `yaml:"phone"`
	Order  int    `yaml:"order"`
	Active *bool  `yaml:"active"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type Notifier struct {
	// Backend is "local" or "redis".
	Backend string `yaml:"backend"`
	Redis   Redis  `yaml:"redis"`
}

type Mail struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Recipients         []string `yaml:"recipients"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	RetryCount         int      `yaml:"retryCount"`
	RetryBackoffMs     int      `yaml:"retryBackoffMs"`
	QueueSize          int      `yaml:"queueSize"`
}

type KafkaAudit struct {
	Enabled bool             `yaml:"enabled"`
	Brokers []string         `yaml:"brokers"`
	Topic   string           `yaml:"topic"`
	SASL    kafkaauth.Config `yaml:"sasl"`
}

type Audit struct {
	Enabled   bool       `yaml:"enabled"`
	QueueSize int        `yaml:"queueSize"`
	Kafka     KafkaAudit `yaml:"kafka"`
}

type RateLimit struct {
	Webhook ratelimit.Config `yaml:"webhook"`
	API     ratelimit.Config `yaml:"api"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Provider   Provider   `yaml:"provider"`
	Escalation Escalation `yaml:"escalation"`
	Store      Store      `yaml:"store"`
	Alerts     Alerts     `yaml:"alerts"`
	Contacts   []Contact  `yaml:"contacts"`
	Notifier   Notifier   `yaml:"notifier"`
	Mail       Mail       `yaml:"mail"`
	Audit      Audit      `yaml:"audit"`
	RateLimit  RateLimit  `yaml:"rateLimit"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Load loads the escalator configuration from a file path.
// If configPath is empty, ESCALATOR_CONFIG_PATH is consulted and then
// "./config.yaml". Secrets from the environment override the file, and
// defaults are applied; call Validate before use.
func Load(configPath ...string) (Config, error) {
	var path string

	// Use provided path or fall back to default
	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv(EnvConfigPath) != "":
		path = os.Getenv(EnvConfigPath)
	default:
		path = "./config.yaml"
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open escalator config file %s: %w", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config.ApplyEnv()
	config.Defaults()
	return config, nil
}

// ApplyEnv overrides secrets with values from the environment when set.
func (c *Config) ApplyEnv() {
	override := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override(&c.Provider.AccountSID, EnvTwilioAccountSID)
	override(&c.Provider.AuthToken, EnvTwilioAuthToken)
	override(&c.Provider.PhoneNumber, EnvTwilioPhoneNumber)
	override(&c.Store.DSN, EnvStoreDSN)
	override(&c.Mail.Password, EnvSMTPPassword)
	override(&c.Notifier.Redis.Password, EnvRedisPassword)
}

// Defaults fills every unset field with its default value.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Provider.Voice == "" {
		c.Provider.Voice = "Polly.Joanna-Neural"
	}
	if c.Provider.Language == "" {
		c.Provider.Language = "en-US"
	}
	if c.Provider.GatherTimeout == 0 {
		c.Provider.GatherTimeout = 10
	}

	def := escalation.DefaultConfig()
	if c.Escalation.MaxLoops == 0 {
		c.Escalation.MaxLoops = def.MaxLoops
	}
	if c.Escalation.CallTimeout == 0 {
		c.Escalation.CallTimeout = 30 * time.Second
	}
	if c.Escalation.ContactTimeout == 0 {
		c.Escalation.ContactTimeout = c.Escalation.CallTimeout + time.Minute
	}
	if c.Escalation.CallDelay == 0 {
		c.Escalation.CallDelay = def.CallDelay
	}
	if c.Escalation.LoopBackoff == 0 {
		c.Escalation.LoopBackoff = def.LoopBackoff
	}
	if c.Escalation.PollInterval == 0 {
		c.Escalation.PollInterval = escalation.DefaultPollInterval
	}
	if c.Escalation.MaxConcurrent == 0 {
		c.Escalation.MaxConcurrent = 10
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "escalator.db"
	}

	if c.Alerts.PollInterval == 0 {
		c.Alerts.PollInterval = 2 * time.Minute
	}
	if c.Alerts.QueueSize == 0 {
		c.Alerts.QueueSize = 100
	}
	if c.Alerts.Kafka.GroupID == "" {
		c.Alerts.Kafka.GroupID = "voice-escalation"
	}

	if c.Notifier.Backend == "" {
		c.Notifier.Backend = "local"
	}

	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.RetryCount == 0 {
		c.Mail.RetryCount = 3
	}
	if c.Mail.RetryBackoffMs == 0 {
		c.Mail.RetryBackoffMs = 100
	}
	if c.Mail.QueueSize == 0 {
		c.Mail.QueueSize = 100
	}

	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1000
	}
	if c.Audit.Kafka.Topic == "" {
		c.Audit.Kafka.Topic = "voice-escalation-audit"
	}

	if c.RateLimit.Webhook.Rate == 0 {
		c.RateLimit.Webhook = ratelimit.DefaultWebhookConfig()
	}
	if c.RateLimit.API.Rate == 0 {
		c.RateLimit.API = ratelimit.DefaultAPIConfig()
	}

	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = 1.0
	}
}

// Validate reports every configuration problem at once. Missing provider
// credentials are fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Provider.AccountSID == "" || c.Provider.AuthToken == "" {
		errs = append(errs, fmt.Errorf("provider: accountSID and authToken are required (or set %s and %s)",
			EnvTwilioAccountSID, EnvTwilioAuthToken))
	}
	if c.Provider.PhoneNumber == "" {
		errs = append(errs, fmt.Errorf("provider: phoneNumber is required (or set %s)", EnvTwilioPhoneNumber))
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server: publicURL must be an absolute URL, got %q", c.Server.PublicURL))
	}
	if c.Escalation.MaxLoops < 1 {
		errs = append(errs, fmt.Errorf("escalation: maxLoops must be at least 1"))
	}
	if c.Escalation.ContactTimeout < c.Escalation.CallTimeout {
		errs = append(errs, fmt.Errorf("escalation: contactTimeout (%s) must not be shorter than callTimeout (%s)",
			c.Escalation.ContactTimeout, c.Escalation.CallTimeout))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: dsn is required (or set %s)", EnvStoreDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unsupported driver %q", c.Store.Driver))
	}
	switch c.Notifier.Backend {
	case "local":
	case "redis":
		if c.Notifier.Redis.Address == "" {
			errs = append(errs, fmt.Errorf("notifier: redis.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifier: unsupported backend %q", c.Notifier.Backend))
	}
	if c.Alerts.Kafka.Enabled && (len(c.Alerts.Kafka.Brokers) == 0 || c.Alerts.Kafka.Topic == "") {
		errs = append(errs, fmt.Errorf("alerts.kafka: brokers and topic are required when enabled"))
	}
	if c.Audit.Kafka.Enabled && len(c.Audit.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("audit.kafka: brokers are required when enabled"))
	}
	if _, err := kafkaauth.Mechanism(c.Alerts.Kafka.SASL); c.Alerts.Kafka.Enabled && err != nil {
		errs = append(errs, fmt.Errorf("alerts.kafka: %w", err))
	}
	if _, err := kafkaauth.Mechanism(c.Audit.Kafka.SASL); c.Audit.Kafka.Enabled && err != nil {
		errs = append(errs, fmt.Errorf("audit.kafka: %w", err))
	}
	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.SenderAddress == "" || len(c.Mail.Recipients) == 0) {
		errs = append(errs, fmt.Errorf("mail: host, senderAddress and recipients are required when enabled"))
	}
	errs = append(errs, validateContacts(c.Contacts)...)
	return errors.Join(errs...)
}

func validateContacts(contacts []Contact) []error {
	var errs []error
	ids := map[string]bool{}
	orders := map[int]string{}
	for i, ct := range contacts {
		where := fmt.Sprintf("contacts[%d]", i)
		if ct.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if ids[ct.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", where, ct.ID))
		}
		ids[ct.ID] = true
		if !strings.HasPrefix(ct.Phone, "+") || len(ct.Phone) < 8 {
			errs = append(errs, fmt.Errorf("%s: phone %q must be in E.164 format", where, ct.Phone))
		}
		if ct.Order < 1 {
			errs = append(errs, fmt.Errorf("%s: order must be positive", where))
		} else if other, ok := orders[ct.Order]; ok {
			errs = append(errs, fmt.Errorf("%s: order %d already used by %q", where, ct.Order, other))
		}
		orders[ct.Order] = ct.ID
	}
	return errs
}

// EscalationContacts converts the configured chain to escalation contacts.
func (c *Config) EscalationContacts() []escalation.Contact {
	out := make([]escalation.Contact, 0, len(c.Contacts))
	for _, ct := range c.Contacts {
		active := ct.Active == nil || *ct.Active
		name := ct.Name
		if name == "" {
			name = ct.ID
		}
		out = append(out, escalation.Contact{ID: ct.ID, Name: name, Phone: ct.Phone, Order: ct.Order, Active: active})
	}
	return out
}
