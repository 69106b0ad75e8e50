package providers

import (
	"fmt"
	"sort"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Logical output keys. They are the same for every provider.
const (
	OutDatabaseHost        = "database.host"
	OutDatabasePort        = "database.port"
	OutDatabaseName        = "database.name"
	OutDatabaseUsername    = "database.username"
	OutDatabaseEngine      = "database.engine"
	OutDatabasePasswordRef = "database.passwordRef"

	OutStorageBucket   = "storage.bucket"
	OutStorageEndpoint = "storage.endpoint"
	OutStorageRegion   = "storage.region"

	OutClusterName              = "cluster.name"
	OutClusterEndpoint          = "cluster.endpoint"
	OutClusterVersion           = "cluster.version"
	OutClusterKubeconfigCommand = "cluster.kubeconfigCommand"
	OutClusterCA                = "cluster.certificateAuthority"

	OutDNSZoneName    = "dns.zoneName"
	OutDNSZoneID      = "dns.zoneId"
	OutDNSNameServers = "dns.nameServers"

	OutBrokerEndpoint       = "broker.endpoint"
	OutBrokerCredentialsRef = "broker.credentialsRef"

	OutGrafanaURL         = "observability.grafanaUrl"
	OutPrometheusEndpoint = "observability.prometheusEndpoint"

	OutAddonsIngressClass       = "addons.ingressClass"
	OutAddonsExternalDNSEnabled = "addons.externalDnsEnabled"

	OutVectorEndpoint  = "vectorStore.endpoint"
	OutVectorAPIKeyRef = "vectorStore.apiKeyRef"
)

var requiredOutputs = map[engine.ResourceKind][]string{
	engine.KindDatabase: {
		OutDatabaseHost, OutDatabasePort, OutDatabaseName,
		OutDatabaseUsername, OutDatabaseEngine, OutDatabasePasswordRef,
	},
	engine.KindObjectStorage: {OutStorageBucket, OutStorageEndpoint, OutStorageRegion},
	engine.KindKubernetesCluster: {
		OutClusterName, OutClusterEndpoint, OutClusterVersion,
		OutClusterKubeconfigCommand, OutClusterCA,
	},
	engine.KindDNSZone:            {OutDNSZoneName, OutDNSZoneID, OutDNSNameServers},
	engine.KindMessageBroker:      {OutBrokerEndpoint, OutBrokerCredentialsRef},
	engine.KindObservabilityStack: {OutGrafanaURL, OutPrometheusEndpoint},
	engine.KindClusterAddons:      {OutAddonsIngressClass, OutAddonsExternalDNSEnabled},
	engine.KindVectorStore:        {OutVectorEndpoint, OutVectorAPIKeyRef},
}

var sensitiveOutputs = map[string]bool{
	OutDatabasePasswordRef:  true,
	OutBrokerCredentialsRef: true,
	OutVectorAPIKeyRef:      true,
}

// RequiredOutputKeys returns the logical keys every applied resource of kind exposes.
func RequiredOutputKeys(kind engine.ResourceKind) []string {
	return append([]string{}, requiredOutputs[kind]...)
}

// IsSensitive reports whether a logical output key holds a secret reference.
func IsSensitive(key string) bool {
	return sensitiveOutputs[key]
}

// OutputSet collects logical outputs from a resource's raw provider outputs and
// remembers which raw keys were missing.
type OutputSet struct {
	state   engine.ResourceState
	records map[string]engine.OutputRecord
	missing []string
}

// NewOutputSet starts collecting outputs for state.
func NewOutputSet(state engine.ResourceState) *OutputSet {
	return &OutputSet{state: state, records: make(map[string]engine.OutputRecord)}
}

// Raw returns the raw output rawKey, recording it as missing when absent.
func (s *OutputSet) Raw(rawKey string) string {
	v, ok := s.state.Outputs[rawKey]
	if !ok || v == "" {
		s.missing = append(s.missing, rawKey)
	}
	return v
}

// RawOr returns the raw output rawKey, or fallback when absent.
func (s *OutputSet) RawOr(rawKey, fallback string) string {
	if v, ok := s.state.Outputs[rawKey]; ok && v != "" {
		return v
	}
	return fallback
}

// Attr returns a string attribute of the applied spec.
func (s *OutputSet) Attr(name string) string {
	v, ok := s.state.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Set records a logical output.
func (s *OutputSet) Set(key, value string) *OutputSet {
	s.records[key] = engine.OutputRecord{Key: key, Value: value, Sensitive: IsSensitive(key)}
	return s
}

// Records returns the collected outputs sorted by key, or an error naming the
// raw outputs that were missing.
func (s *OutputSet) Records() ([]engine.OutputRecord, error) {
	if len(s.missing) > 0 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("%s (%s) is missing raw outputs %v", s.state.ID, s.state.Provider, s.missing), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(s.state.ID)
	}
	out := make([]engine.OutputRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
