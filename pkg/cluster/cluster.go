package cluster

import (
	"net/url"

	"github.com/go-playground/validator/v10"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"

	TransportHTTP = "http"
	TransportGRPC = "grpc"

	DefaultRegistryPath = "/vertera/scheduler"
)

// Mode is the addressing mode governing how the scheduler is located.
type Mode int

const (
	// ModeDirect talks to a fixed, pre-configured URI.
	ModeDirect Mode = iota + 1
	// ModeRegistry discovers the leading scheduler through the membership
	// registry.
	ModeRegistry
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeRegistry:
		return "registry"
	default:
		return "unknown"
	}
}

// Cluster describes a scheduler deployment. It is treated as immutable once
// validated.
type Cluster struct {
	Name string `yaml:"name" validate:"required"`

	// SchedulerURI is a fixed scheduler address.
	SchedulerURI string `yaml:"scheduler_uri" validate:"omitempty,url"`
	// ProxyURL is the address handed to users when a static proxy fronts
	// the schedulers. Transports are still opened against the scheduler
	// itself when it is discovered through the registry.
	ProxyURL string `yaml:"proxy_url" validate:"omitempty,url"`

	// Registry lists the membership registry addresses (host:port).
	Registry     []string `yaml:"registry" validate:"omitempty,dive,hostname_port"`
	RegistryPath string   `yaml:"registry_path"`

	Scheme        string `yaml:"scheme" validate:"omitempty,oneof=http https"`
	Transport     string `yaml:"transport" validate:"omitempty,oneof=http grpc"`
	AuthMechanism string `yaml:"auth_mechanism"`
}

var validate = validator.New()

// WithDefaults fills in unset optional fields.
func (c Cluster) WithDefaults() Cluster {
	if c.Scheme == "" {
		c.Scheme = SchemeHTTP
	}
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	if c.RegistryPath == "" {
		c.RegistryPath = DefaultRegistryPath
	}
	if c.AuthMechanism == "" {
		c.AuthMechanism = "UNAUTHENTICATED"
	}
	return c
}

// Mode reports which addressing mode governs resolution, or an error for
// contradictory or missing addressing configuration.
func (c Cluster) Mode() (Mode, error) {
	hasURI := c.SchedulerURI != ""
	hasProxy := c.ProxyURL != ""
	hasRegistry := len(c.Registry) > 0

	switch {
	case hasURI && hasRegistry:
		return 0, errors.Errorf("cluster %q: scheduler_uri and registry are mutually exclusive", c.Name)
	case hasURI && hasProxy:
		return 0, errors.Errorf("cluster %q: scheduler_uri and proxy_url are mutually exclusive", c.Name)
	case hasRegistry:
		return ModeRegistry, nil
	case hasURI, hasProxy:
		return ModeDirect, nil
	default:
		return 0, errors.Errorf("cluster %q: no scheduler_uri, proxy_url or registry configured", c.Name)
	}
}

// DirectURI is the address used in ModeDirect.
func (c Cluster) DirectURI() string {
	if c.SchedulerURI != "" {
		return c.SchedulerURI
	}
	return c.ProxyURL
}

// Validate checks field formats and the addressing mode.
func (c Cluster) Validate() error {
	var result *multierror.Error
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				result = multierror.Append(result, errors.Errorf("cluster %q: field %s failed %q validation", c.Name, fe.Field(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}
	if _, err := c.Mode(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, raw := range []string{c.SchedulerURI, c.ProxyURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue // reported by the validator
		}
		if u.Scheme != SchemeHTTP && u.Scheme != SchemeHTTPS {
			result = multierror.Append(result, errors.Errorf("cluster %q: unsupported scheme in %s", c.Name, raw))
		}
	}
	return result.ErrorOrNil()
}
