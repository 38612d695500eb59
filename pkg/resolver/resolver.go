// Package resolver maps a parsed value-source selector to the concrete
// string published in DNS for an instance.
package resolver

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/flocksync/flocksync/pkg/types"
)

// ErrValueUnavailable is returned when the requested attribute is absent on
// the instance, e.g. no public address assigned.
var ErrValueUnavailable = errors.New("value unavailable")

// Resolve extracts the publish value for an instance according to source.
func Resolve(instance *types.InstanceView, source types.ValueSource) (string, error) {
	switch source.Kind {
	case types.SourceIP:
		return resolveIP(instance, source)
	case types.SourceHostname:
		return resolveHostname(instance, source)
	case types.SourceTag:
		value, ok := instance.Tag(source.TagKey, source.CaseSensitive)
		if !ok || value == "" {
			return "", fmt.Errorf("%w: tag %q on instance %s", ErrValueUnavailable, source.TagKey, instance.ID)
		}
		return value, nil
	}
	return "", fmt.Errorf("%w: unsupported source %s", ErrValueUnavailable, source)
}

func resolveIP(instance *types.InstanceView, source types.ValueSource) (string, error) {
	var value string
	switch {
	case source.Family == types.FamilyV4 && source.Visibility == types.VisibilityPrivate:
		value = instance.PrivateIPv4
	case source.Family == types.FamilyV4 && source.Visibility == types.VisibilityPublic:
		value = instance.PublicIPv4
	case source.Family == types.FamilyV6 && source.Visibility == types.VisibilityPrivate:
		value = instance.PrivateIPv6
	case source.Family == types.FamilyV6 && source.Visibility == types.VisibilityPublic:
		value = instance.PublicIPv6
	}
	if value == "" {
		return "", fmt.Errorf("%w: %s %s address on instance %s",
			ErrValueUnavailable, source.Visibility, source.Family, instance.ID)
	}
	return value, nil
}

func resolveHostname(instance *types.InstanceView, source types.ValueSource) (string, error) {
	value := instance.PrivateDNS
	if source.Visibility == types.VisibilityPublic {
		value = instance.PublicDNS
	}
	if value == "" {
		return "", fmt.Errorf("%w: %s hostname on instance %s",
			ErrValueUnavailable, source.Visibility, instance.ID)
	}
	return value, nil
}

// ResolveEndpoint builds a host:port health-check endpoint from the check's
// own endpoint source. The source expression is parsed here because health
// specs carry it as a raw string in their stored form.
func ResolveEndpoint(instance *types.InstanceView, spec types.HealthCheckSpec) (string, error) {
	expr := spec.EndpointSource
	if expr == "" {
		expr = "ip:v4:private"
	}
	source, err := types.ParseValueSource(expr)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint source %q: %w", expr, err)
	}
	host, err := Resolve(instance, source)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(spec.Port)), nil
}
