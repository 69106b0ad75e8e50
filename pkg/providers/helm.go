package providers

import (
	"fmt"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Helm release attribute names shared by every cluster-dependent kind.
const (
	AttrRelease            = "release"
	AttrChart              = "chart"
	AttrChartVersion       = "chartVersion"
	AttrRepository         = "repository"
	AttrNamespace          = "namespace"
	AttrValues             = "values"
	AttrAdditionalReleases = "additionalReleases"
)

// Raw outputs reported for Helm releases.
const (
	RawReleaseName    = "release_name"
	RawNamespace      = "namespace"
	RawServiceHost    = "service_host"
	RawServicePort    = "service_port"
	RawSecretName     = "secret_name"
	RawGrafanaHost    = "grafana_host"
	RawPrometheusHost = "prometheus_host"
)

// Chart coordinates of the releases the cluster-dependent builders install.
const (
	RabbitMQRepository = "oci://registry-1.docker.io/bitnamicharts"
	RabbitMQChart      = "rabbitmq"
	RabbitMQVersion    = "15.0.3"

	PrometheusRepository = "https://prometheus-community.github.io/helm-charts"
	PrometheusChart      = "kube-prometheus-stack"
	PrometheusVersion    = "65.1.1"

	IngressNginxRepository = "https://kubernetes.github.io/ingress-nginx"
	IngressNginxChart      = "ingress-nginx"
	IngressNginxVersion    = "4.11.3"

	ExternalDNSRepository = "https://kubernetes-sigs.github.io/external-dns"
	ExternalDNSChart      = "external-dns"
	ExternalDNSVersion    = "1.15.0"

	CertManagerRepository = "https://charts.jetstack.io"
	CertManagerChart      = "cert-manager"
	CertManagerVersion    = "v1.16.1"

	QdrantRepository = "https://qdrant.github.io/qdrant-helm"
	QdrantChart      = "qdrant"
	QdrantVersion    = "1.12.1"
)

// AddonsNamespace is where the cluster add-on releases are installed.
const AddonsNamespace = "cluster-addons"

// Flavor carries the per-provider settings of in-cluster releases.
type Flavor struct {
	Provider engine.ProviderKind

	// StorageClass backs persistent volume claims.
	StorageClass string

	// LoadBalancerAnnotations are put on LoadBalancer services.
	LoadBalancerAnnotations map[string]string

	// ExternalDNSProvider is the external-dns provider name.
	ExternalDNSProvider string
}

// HelmBuilders returns the builders of the cluster-dependent kinds for a provider.
func HelmBuilders(f Flavor) []Builder {
	return []Builder{
		&brokerBuilder{Base: NewBase(engine.KindMessageBroker, f.Provider), flavor: f},
		&observabilityBuilder{Base: NewBase(engine.KindObservabilityStack, f.Provider), flavor: f},
		&addonsBuilder{Base: NewBase(engine.KindClusterAddons, f.Provider), flavor: f},
		&vectorBuilder{Base: NewBase(engine.KindVectorStore, f.Provider), flavor: f},
	}
}

// release is one Helm release to install.
type release struct {
	Name       string
	Chart      string
	Version    string
	Repository string
	Namespace  string
	Values     map[string]interface{}
}

func (r release) attributes() map[string]interface{} {
	return map[string]interface{}{
		AttrRelease:      r.Name,
		AttrChart:        r.Chart,
		AttrChartVersion: r.Version,
		AttrRepository:   r.Repository,
		AttrNamespace:    r.Namespace,
		AttrValues:       r.Values,
	}
}

func (b Base) helmSpec(cfg *config.Canonical, env engine.Environment, r release) (*engine.ResourceSpec, error) {
	if err := RequireCluster(cfg, b.kind); err != nil {
		return nil, err
	}
	return b.NewSpec(cfg, env, r.attributes(), AttrRelease, AttrNamespace)
}

func requireEngine(kind engine.ResourceKind, opts config.Options, supported string) error {
	if e := opts.String(config.OptEngine); e != "" && e != supported {
		return engine.NewConfigError(string(kind)+"."+config.OptEngine,
			fmt.Sprintf("unsupported %s engine %q, only %s is available", kind, e, supported)).
			WithResource(string(kind)).WithCode(engine.ErrCodeInvalidValue)
	}
	return nil
}

func gi(gb int) string {
	return fmt.Sprintf("%dGi", gb)
}

func secretRef(namespace, name string) string {
	return "secret://" + namespace + "/" + name
}

type brokerBuilder struct {
	Base
	flavor Flavor
}

func (b *brokerBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.kind)
	if err := requireEngine(b.kind, opts, "rabbitmq"); err != nil {
		return nil, err
	}
	p := Profile(env.Tier)
	replicas := IntOr(opts, config.OptReplicas, p.Replicas)
	name := ResourceName(env, "rabbitmq")

	return b.helmSpec(cfg, env, release{
		Name:       name,
		Chart:      RabbitMQChart,
		Version:    StringOr(opts, config.OptChartVersion, RabbitMQVersion),
		Repository: RabbitMQRepository,
		Namespace:  opts.String(config.OptNamespace),
		Values: map[string]interface{}{
			"replicaCount": replicas,
			"clustering":   map[string]interface{}{"enabled": replicas > 1},
			"auth": map[string]interface{}{
				"username":               ManagedBy,
				"existingPasswordSecret": name + "-credentials",
			},
			"persistence": map[string]interface{}{
				"enabled":      true,
				"size":         gi(SizeGB(opts, config.OptPersistenceGB, config.OptPersistenceMB, p.BrokerPersistenceGB)),
				"storageClass": b.flavor.StorageClass,
			},
			"service": map[string]interface{}{"type": "ClusterIP"},
		},
	})
}

func (b *brokerBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := NewOutputSet(state)
	host := s.Raw(RawServiceHost)
	port := s.RawOr(RawServicePort, "5672")
	s.Set(OutBrokerEndpoint, "amqp://"+host+":"+port)
	s.Set(OutBrokerCredentialsRef, secretRef(s.RawOr(RawNamespace, s.Attr(AttrNamespace)), s.Raw(RawSecretName)))
	return s.Records()
}

type observabilityBuilder struct {
	Base
	flavor Flavor
}

func (b *observabilityBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.kind)
	p := Profile(env.Tier)
	retention := IntOr(opts, config.OptRetentionDays, p.ObservabilityRetentionDays)
	storage := IntOr(opts, config.OptStorageGB, p.ObservabilityStorageGB)

	return b.helmSpec(cfg, env, release{
		Name:       ResourceName(env, "monitoring"),
		Chart:      PrometheusChart,
		Version:    PrometheusVersion,
		Repository: PrometheusRepository,
		Namespace:  opts.String(config.OptNamespace),
		Values: map[string]interface{}{
			"grafana": map[string]interface{}{
				"enabled": BoolOr(opts, config.OptGrafanaEnabled, true),
			},
			"alertmanager": map[string]interface{}{
				"enabled": env.Tier != engine.TierDev,
			},
			"prometheus": map[string]interface{}{
				"prometheusSpec": map[string]interface{}{
					"retention": fmt.Sprintf("%dd", retention),
					"storageSpec": map[string]interface{}{
						"volumeClaimTemplate": map[string]interface{}{
							"spec": map[string]interface{}{
								"storageClassName": b.flavor.StorageClass,
								"resources": map[string]interface{}{
									"requests": map[string]interface{}{"storage": gi(storage)},
								},
							},
						},
					},
				},
			},
		},
	})
}

func (b *observabilityBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := NewOutputSet(state)
	s.Set(OutGrafanaURL, "http://"+s.Raw(RawGrafanaHost))
	s.Set(OutPrometheusEndpoint, "http://"+s.Raw(RawPrometheusHost)+":9090")
	return s.Records()
}

// Cluster add-on attribute names.
const (
	AttrIngressClass = "ingressClass"
	AttrACMEEmail    = "acmeEmail"
)

type addonsBuilder struct {
	Base
	flavor Flavor
}

func (b *addonsBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.kind)
	externalDNS := BoolOr(opts, config.OptExternalDNS, false)
	if externalDNS && !cfg.Enabled(engine.KindDNSZone) {
		return nil, engine.NewConfigError(string(b.kind)+"."+config.OptExternalDNS,
			"external DNS integration requires an enabled dns_zone").WithResource(string(b.kind))
	}
	ingressClass := opts.String(config.OptIngressClass)
	p := Profile(env.Tier)

	ingress := release{
		Name:       ResourceName(env, "ingress"),
		Chart:      IngressNginxChart,
		Version:    IngressNginxVersion,
		Repository: IngressNginxRepository,
		Namespace:  AddonsNamespace,
		Values: map[string]interface{}{
			"controller": map[string]interface{}{
				"replicaCount": p.Replicas,
				"ingressClassResource": map[string]interface{}{
					"name":    ingressClass,
					"default": true,
				},
				"service": map[string]interface{}{
					"type":        "LoadBalancer",
					"annotations": stringMapValues(b.flavor.LoadBalancerAnnotations),
				},
			},
		},
	}

	extra := []interface{}{}
	if externalDNS {
		domain := cfg.Section(engine.KindDNSZone).String(config.OptDomain)
		extra = append(extra, release{
			Name:       ResourceName(env, "external-dns"),
			Chart:      ExternalDNSChart,
			Version:    ExternalDNSVersion,
			Repository: ExternalDNSRepository,
			Namespace:  AddonsNamespace,
			Values: map[string]interface{}{
				"provider":      map[string]interface{}{"name": b.flavor.ExternalDNSProvider},
				"domainFilters": []interface{}{domain},
				"txtOwnerId":    env.Name,
				"policy":        "sync",
			},
		}.attributes())
	}
	if BoolOr(opts, config.OptCertManager, env.Tier != engine.TierDev) {
		extra = append(extra, release{
			Name:       ResourceName(env, "cert-manager"),
			Chart:      CertManagerChart,
			Version:    CertManagerVersion,
			Repository: CertManagerRepository,
			Namespace:  AddonsNamespace,
			Values:     map[string]interface{}{"crds": map[string]interface{}{"enabled": true}},
		}.attributes())
	}

	if err := RequireCluster(cfg, b.kind); err != nil {
		return nil, err
	}
	attrs := ingress.attributes()
	attrs[AttrAdditionalReleases] = extra
	attrs[AttrIngressClass] = ingressClass
	attrs[engine.AttrExternalDNSEnabled] = externalDNS
	if email := opts.String(config.OptACMEEmail); email != "" {
		attrs[AttrACMEEmail] = email
	}
	return b.NewSpec(cfg, env, attrs, AttrRelease, AttrNamespace)
}

func (b *addonsBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := NewOutputSet(state)
	s.Set(OutAddonsIngressClass, s.Attr(AttrIngressClass))
	s.Set(OutAddonsExternalDNSEnabled, fmt.Sprint(state.Attributes[engine.AttrExternalDNSEnabled] == true))
	return s.Records()
}

type vectorBuilder struct {
	Base
	flavor Flavor
}

func (b *vectorBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.kind)
	if err := requireEngine(b.kind, opts, "qdrant"); err != nil {
		return nil, err
	}
	p := Profile(env.Tier)
	name := ResourceName(env, "qdrant")

	return b.helmSpec(cfg, env, release{
		Name:       name,
		Chart:      QdrantChart,
		Version:    QdrantVersion,
		Repository: QdrantRepository,
		Namespace:  opts.String(config.OptNamespace),
		Values: map[string]interface{}{
			"replicaCount": IntOr(opts, config.OptReplicas, p.Replicas),
			"persistence": map[string]interface{}{
				"size":             gi(IntOr(opts, config.OptStorageGB, p.VectorStorageGB)),
				"storageClassName": b.flavor.StorageClass,
			},
			"apiKey": map[string]interface{}{
				"valueFrom": map[string]interface{}{
					"secretKeyRef": map[string]interface{}{"name": name + "-api-key", "key": "api-key"},
				},
			},
			"config": map[string]interface{}{
				"cluster": map[string]interface{}{"enabled": IntOr(opts, config.OptReplicas, p.Replicas) > 1},
			},
			"collection": opts.String(config.OptCollection),
		},
	})
}

func (b *vectorBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := NewOutputSet(state)
	s.Set(OutVectorEndpoint, "http://"+s.Raw(RawServiceHost)+":"+s.RawOr(RawServicePort, "6333"))
	s.Set(OutVectorAPIKeyRef, secretRef(s.RawOr(RawNamespace, s.Attr(AttrNamespace)), s.Raw(RawSecretName)))
	return s.Records()
}

func stringMapValues(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
