package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// reservedPrefixes are served by the gateway itself.
var reservedPrefixes = map[string]bool{
	"/":                 true,
	"/health":           true,
	"/healthz":          true,
	"/gateway/services": true,
	"/gateway/usage":    true,
}

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors. It is the fatal
// configuration error that aborts startup.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// ValidateConfig validates a defaulted gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateLogging(&cfg.Logging)
	tiers := v.validateTiers(cfg)
	v.validateProvider(&cfg.TierProvider, tiers)
	v.validateStores(cfg)
	v.validateBreaker(&cfg.CircuitBreaker)
	v.validateServices(cfg.Services)

	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("unsupported level %q", l.Level))
	}
	switch l.Format {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("unsupported format %q", l.Format))
	}
}

func (v *Validator) validateTiers(cfg *GatewayConfig) map[string]bool {
	names := make(map[string]bool, len(cfg.Tiers))
	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]
		path := fmt.Sprintf("tiers[%d]", i)
		if t.Name == "" {
			v.addError(path+".name", "name is required")
			continue
		}
		if names[t.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate tier %q", t.Name))
		}
		names[t.Name] = true
		if !t.Unlimited && t.RequestsPerMinute <= 0 {
			v.addError(path+".requestsPerMinute", "must be positive unless unlimited")
		}
		if t.RequestsPerHour < 0 || t.RequestsPerDay < 0 {
			v.addError(path, "quotas must not be negative")
		}
	}
	if !names[cfg.DefaultTier] {
		v.addError("defaultTier", fmt.Sprintf("tier %q is not defined", cfg.DefaultTier))
	}
	return names
}

func (v *Validator) validateProvider(p *TierProviderConfig, tiers map[string]bool) {
	switch p.Type {
	case ProviderStatic:
		for key, entry := range p.APIKeys {
			if key == "" {
				v.addError("tierProvider.apiKeys", "empty key")
			}
			if entry.Subject == "" {
				v.addError("tierProvider.apiKeys", "entry without subject")
			}
			if !tiers[entry.Tier] {
				v.addError("tierProvider.apiKeys", fmt.Sprintf("unknown tier %q", entry.Tier))
			}
		}
	case ProviderHTTP:
		if u, err := url.Parse(p.URL); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("tierProvider.url", "must be an absolute URL")
		}
	default:
		v.addError("tierProvider.type", fmt.Sprintf("unsupported provider %q", p.Type))
	}
}

func (v *Validator) validateStores(cfg *GatewayConfig) {
	switch cfg.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if !cfg.Redis.Enabled() {
			v.addError("rateLimit.store", "redis store requires redis.address")
		}
	default:
		v.addError("rateLimit.store", fmt.Sprintf("unsupported store %q", cfg.RateLimit.Store))
	}

	switch cfg.Usage.Store {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if !cfg.Redis.Enabled() {
			v.addError("usage.store", "redis store requires redis.address")
		}
	default:
		v.addError("usage.store", fmt.Sprintf("unsupported store %q", cfg.Usage.Store))
	}

	if _, err := cron.ParseStandard(cfg.Usage.PruneSchedule); err != nil {
		v.addError("usage.pruneSchedule", err.Error())
	}
}

func (v *Validator) validateBreaker(cb *CircuitBreakerConfig) {
	if cb.Threshold <= 0 {
		v.addError("circuitBreaker.threshold", "must be positive")
	}
	if cb.Cooldown <= 0 {
		v.addError("circuitBreaker.cooldown", "must be positive")
	}
}

func (v *Validator) validateServices(services []ServiceConfig) {
	if len(services) == 0 {
		v.addError("services", "at least one service is required")
		return
	}

	names := make(map[string]bool, len(services))
	prefixes := make(map[string]string, len(services))
	for i := range services {
		s := &services[i]
		path := fmt.Sprintf("services[%d]", i)

		if s.Name == "" {
			v.addError(path+".name", "name is required")
		} else if strings.ContainsAny(s.Name, "/ ") {
			v.addError(path+".name", "name must not contain slashes or spaces")
		} else if names[s.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate service %q", s.Name))
		}
		names[s.Name] = true

		if u, err := url.Parse(s.Upstream); err != nil || u.Host == "" ||
			(u.Scheme != "http" && u.Scheme != "https") {
			v.addError(path+".upstream", fmt.Sprintf("invalid upstream %q", s.Upstream))
		}

		if other, ok := prefixes[s.PathPrefix]; ok {
			v.addError(path+".pathPrefix", fmt.Sprintf("prefix %q already used by %q", s.PathPrefix, other))
		}
		prefixes[s.PathPrefix] = s.Name

		if reservedPrefixes[s.PathPrefix] {
			v.addError(path+".pathPrefix", fmt.Sprintf("prefix %q is reserved for the gateway", s.PathPrefix))
		}

		if !strings.HasPrefix(s.InternalPath, "/") {
			v.addError(path+".internalPath", "must start with /")
		}
		if !strings.HasPrefix(s.HealthPath, "/") {
			v.addError(path+".healthPath", "must start with /")
		}
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
