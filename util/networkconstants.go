package util

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	NETWORK_MOONBEAM  = "moonbeam"
	NETWORK_MOONRIVER = "moonriver"
	NETWORK_MOONBASE  = "moonbase"
	NETWORK_LOCAL     = "local"
)

// NetworkConstants are the per-network defaults the audit starts from.
type NetworkConstants struct {
	Name              string
	DefaultEndpoint   string
	TimeBetweenBlocks time.Duration
	// WatchInterval is how often watch mode re-checks for a newly paid round.
	WatchInterval time.Duration
}

var networks = map[string]NetworkConstants{
	NETWORK_MOONBEAM: {
		Name: NETWORK_MOONBEAM, DefaultEndpoint: "http://127.0.0.1:8080",
		TimeBetweenBlocks: 6 * time.Second, WatchInterval: 10 * time.Minute,
	},
	NETWORK_MOONRIVER: {
		Name: NETWORK_MOONRIVER, DefaultEndpoint: "http://127.0.0.1:8081",
		TimeBetweenBlocks: 6 * time.Second, WatchInterval: 5 * time.Minute,
	},
	NETWORK_MOONBASE: {
		Name: NETWORK_MOONBASE, DefaultEndpoint: "http://127.0.0.1:8082",
		TimeBetweenBlocks: 6 * time.Second, WatchInterval: 5 * time.Minute,
	},
	NETWORK_LOCAL: {
		Name: NETWORK_LOCAL, DefaultEndpoint: "http://127.0.0.1:8080",
		TimeBetweenBlocks: 6 * time.Second, WatchInterval: time.Minute,
	},
}

func GetNetworkConstants(network string) (*NetworkConstants, error) {

	c, ok := networks[network]
	if !ok {
		return nil, fmt.Errorf("No such network '%s' exists", network)
	}

	return &c, nil
}

func IsValidNetwork(maybeNetwork string) bool {
	_, ok := networks[maybeNetwork]
	return ok
}

func AvailableNetworks() string {

	names := make([]string, 0, len(networks))
	for n := range networks {
		names = append(names, n)
	}
	sort.Strings(names)

	return strings.Join(names, ",")
}
