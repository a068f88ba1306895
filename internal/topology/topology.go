// Package topology discovers cluster membership and node roles, maps
// SSH hosts onto discovered nodes, and classifies the deployment
// environment (managed / HA-cluster / self-hosted) before discovery
// runs.
package topology

import (
	"strings"

	"github.com/evalgo/dbhealth/internal/model"
)

// Environment classifies where and how a database cluster is deployed.
type Environment string

const (
	EnvManaged    Environment = "managed_service"
	EnvHACluster  Environment = "ha_cluster"
	EnvSelfHosted Environment = "self_hosted"
)

// EnvironmentSignal is one weighted piece of evidence toward an
// Environment classification.
type EnvironmentSignal struct {
	Name        string
	Environment Environment
	Weight      float64
}

// confidenceThreshold is the minimum accumulated weight (out of the
// signal set's own total) an environment must reach relative to the
// runner-up before ClassifyEnvironment commits to it instead of
// EnvSelfHosted as the conservative default.
const confidenceThreshold = 0.5

// ClassifyEnvironment scores accumulated signals per environment and
// returns whichever exceeds the others by at least confidenceThreshold
// of the total weight; ties (or no signals) fall back to EnvSelfHosted,
// the least assumption-laden choice.
func ClassifyEnvironment(signals []EnvironmentSignal) Environment {
	scores := map[Environment]float64{}
	var total float64
	for _, s := range signals {
		scores[s.Environment] += s.Weight
		total += s.Weight
	}
	if total == 0 {
		return EnvSelfHosted
	}

	best := EnvSelfHosted
	var bestScore, secondScore float64
	for env, score := range scores {
		if score > bestScore {
			secondScore = bestScore
			best, bestScore = env, score
		} else if score > secondScore {
			secondScore = score
		}
	}

	if (bestScore-secondScore)/total < confidenceThreshold {
		// margin too thin relative to the rest of the evidence
		return EnvSelfHosted
	}
	return best
}

// DiscoveryStrategy is the per-technology-family membership algorithm:
// relational streaming replication, managed cloud describe-API, or
// distributed-driver metadata.
type DiscoveryStrategy interface {
	Discover() (model.Topology, error)
}

// HostMapper is a caller-supplied fallback for attributing an SSH host
// to a node when exact-address and substring matching both fail.
type HostMapper func(sshHost string, topo model.Topology) (nodeID string, ok bool)

// MapSSHHosts attributes each configured SSH host to a topology node by
// trying, in order: exact address match, substring match, then the
// caller-supplied mapper. Hosts that remain unmapped are returned
// separately; they can still execute commands, but their output cannot
// be attributed to a cluster identity.
func MapSSHHosts(hosts []string, topo model.Topology, mapper HostMapper) (mapped map[string]string, unmapped []string) {
	mapped = make(map[string]string, len(hosts))

	for _, host := range hosts {
		if nodeID, ok := exactMatch(host, topo); ok {
			mapped[host] = nodeID
			continue
		}
		if nodeID, ok := substringMatch(host, topo); ok {
			mapped[host] = nodeID
			continue
		}
		if mapper != nil {
			if nodeID, ok := mapper(host, topo); ok {
				mapped[host] = nodeID
				continue
			}
		}
		unmapped = append(unmapped, host)
	}
	return mapped, unmapped
}

func exactMatch(host string, topo model.Topology) (string, bool) {
	for _, n := range topo.Nodes {
		if n.Host == host {
			return n.ID, true
		}
	}
	return "", false
}

func substringMatch(host string, topo model.Topology) (string, bool) {
	for _, n := range topo.Nodes {
		if n.Host != "" && (strings.Contains(n.Host, host) || strings.Contains(host, n.Host)) {
			return n.ID, true
		}
	}
	return "", false
}
