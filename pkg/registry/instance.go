package registry

import (
	"encoding/json"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusAlive    Status = "ALIVE"
	StatusStarting Status = "STARTING"
	StatusStopping Status = "STOPPING"
	StatusDead     Status = "DEAD"
)

// Endpoint is a network location advertised by a service instance.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ServiceInstance is the record a scheduler replica publishes when it joins
// the registry.
type ServiceInstance struct {
	ServiceEndpoint     Endpoint            `json:"serviceEndpoint"`
	AdditionalEndpoints map[string]Endpoint `json:"additionalEndpoints,omitempty"`
	Shard               *int                `json:"shard,omitempty"`
	Status              Status              `json:"status"`
}

// Unpack decodes a ServiceInstance from its JSON form.
func Unpack(data []byte) (ServiceInstance, error) {
	var si ServiceInstance
	if err := json.Unmarshal(data, &si); err != nil {
		return si, errors.Wrap(err, "decoding service instance")
	}
	if si.ServiceEndpoint.Host == "" || si.ServiceEndpoint.Port <= 0 {
		return si, errors.New("service instance has no usable service endpoint")
	}
	return si, nil
}

// Pack encodes the instance for storage in the registry.
func (si ServiceInstance) Pack() ([]byte, error) {
	return json.Marshal(si)
}

// EndpointFor picks the endpoint to use for scheme. An additional endpoint
// advertised under that scheme wins; otherwise the primary endpoint is
// returned.
func (si ServiceInstance) EndpointFor(scheme string) Endpoint {
	if ep, ok := si.AdditionalEndpoints[scheme]; ok && ep.Host != "" {
		return ep
	}
	return si.ServiceEndpoint
}

// Member is a ServiceInstance together with its position in the registry.
type Member struct {
	ID       string
	Sequence int64
	Instance ServiceInstance
}
