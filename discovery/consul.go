// Package discovery resolves the endpoint list of a communication group from
// a service registry.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"

	"github.com/hashicorp/consul/api"

	"github.com/lcx/comms/comms"
	"github.com/lcx/comms/log"
)

// ErrSelfNotFound is returned when the resolving process is not among the
// passing instances.
var ErrSelfNotFound = errors.New("discovery: local instance not registered")

// ConsulResolver lists the group members registered under Service.
type ConsulResolver struct {
	Client  *api.Client
	Service string
	Tag     string
}

// NewConsulResolver connects to the agent at addr; an empty addr uses the
// Consul defaults (CONSUL_HTTP_ADDR or 127.0.0.1:8500).
func NewConsulResolver(addr, service, tag string) (*ConsulResolver, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulResolver{Client: client, Service: service, Tag: tag}, nil
}

// Register announces this process under the resolver's service with id self.
func (r *ConsulResolver) Register(ctx context.Context, self, host string, port int) error {
	reg := &api.AgentServiceRegistration{
		ID:      self,
		Name:    r.Service,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			TCP:                            net.JoinHostPort(host, strconv.Itoa(port)),
			Interval:                       "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if r.Tag != "" {
		reg.Tags = []string{r.Tag}
	}
	opts := (&api.ServiceRegisterOpts{}).WithContext(ctx)
	if err := r.Client.Agent().ServiceRegisterOpts(reg, opts); err != nil {
		return fmt.Errorf("consul register %s: %w", self, err)
	}
	log.Info().Str("service", r.Service).Str("id", self).Int("port", port).Msg("registered with consul")
	return nil
}

// Deregister removes the registration made by Register.
func (r *ConsulResolver) Deregister(self string) error {
	return r.Client.Agent().ServiceDeregister(self)
}

// Resolve returns the passing instances ordered by node and service id, and
// the index of the one whose service id is self. Every member resolving the
// same registry state sees the same order.
func (r *ConsulResolver) Resolve(ctx context.Context, self string) ([]comms.EndpointDesc, int, error) {
	q := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.Client.Health().Service(r.Service, r.Tag, true, q)
	if err != nil {
		return nil, -1, fmt.Errorf("consul health %s: %w", r.Service, err)
	}
	entries = slices.DeleteFunc(entries, func(e *api.ServiceEntry) bool { return e.Service == nil })

	sort.Slice(entries, func(i, j int) bool {
		ni, nj := nodeName(entries[i]), nodeName(entries[j])
		if ni != nj {
			return ni < nj
		}
		return entries[i].Service.ID < entries[j].Service.ID
	})

	descs := make([]comms.EndpointDesc, 0, len(entries))
	local := -1
	for _, e := range entries {
		host := e.Service.Address
		if host == "" && e.Node != nil {
			host = e.Node.Address
		}
		d := comms.EndpointDesc{
			Name:    e.Service.ID,
			Address: net.JoinHostPort(host, strconv.Itoa(e.Service.Port)),
			Index:   len(descs),
		}
		if d.Name == self {
			d.IsLocal = true
			local = d.Index
		}
		descs = append(descs, d)
	}
	if local < 0 {
		return nil, -1, fmt.Errorf("%w: %q in service %s", ErrSelfNotFound, self, r.Service)
	}

	log.Debug().Str("service", r.Service).Int("endpoints", len(descs)).Int("local", local).Msg("resolved endpoints")
	return descs, local, nil
}

func nodeName(e *api.ServiceEntry) string {
	if e.Node == nil {
		return ""
	}
	return e.Node.Node
}
