package sim

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
	"github.com/openfroyo/cloudplan/pkg/providers/aws"
	"github.com/openfroyo/cloudplan/pkg/providers/azure"
	"github.com/openfroyo/cloudplan/pkg/providers/gcp"
)

func attr(spec *engine.ResourceSpec, name string) string {
	v, ok := spec.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func fakeCA(spec *engine.ResourceSpec) string {
	return base64.StdEncoding.EncodeToString([]byte("-----BEGIN CERTIFICATE-----\n" +
		digest(spec, "ca") + "\n-----END CERTIFICATE-----\n"))
}

// fakeIP derives a stable address in prefix from the spec digest.
func fakeIP(spec *engine.ResourceSpec, prefix string) string {
	h := digest(spec, "ip")
	a, _ := strconv.ParseUint(h[0:2], 16, 8)
	b, _ := strconv.ParseUint(h[2:4], 16, 8)
	return fmt.Sprintf("%s.%d.%d", prefix, a, b%254+1)
}

func databasePort(engineName string) string {
	if strings.Contains(strings.ToLower(engineName), "mysql") {
		return "3306"
	}
	return "5432"
}

// providerID returns the identifier the provider would assign.
func providerID(spec *engine.ResourceSpec) string {
	switch spec.Provider {
	case engine.ProviderAWS:
		region := or(attr(spec, aws.AttrRegion), "us-east-1")
		switch spec.Kind {
		case engine.KindDatabase:
			return fmt.Sprintf("arn:aws:rds:%s:000000000000:db:%s", region, attr(spec, aws.AttrIdentifier))
		case engine.KindObjectStorage:
			return "arn:aws:s3:::" + attr(spec, aws.AttrBucket)
		case engine.KindKubernetesCluster:
			return fmt.Sprintf("arn:aws:eks:%s:000000000000:cluster/%s", region, attr(spec, aws.AttrName))
		case engine.KindDNSZone:
			return "/hostedzone/" + route53ZoneID(spec)
		}
	case engine.ProviderAzure:
		group := attr(spec, azure.AttrResourceGroup)
		switch spec.Kind {
		case engine.KindDatabase:
			return azureID(group, "Microsoft.DBforPostgreSQL/flexibleServers", attr(spec, azure.AttrServerName))
		case engine.KindObjectStorage:
			return azureID(group, "Microsoft.Storage/storageAccounts", attr(spec, azure.AttrStorageAccountName))
		case engine.KindKubernetesCluster:
			return azureID(group, "Microsoft.ContainerService/managedClusters", attr(spec, azure.AttrName))
		case engine.KindDNSZone:
			return azureID(group, "Microsoft.Network/dnszones", attr(spec, azure.AttrName))
		}
	case engine.ProviderGCP:
		project := attr(spec, gcp.AttrProject)
		switch spec.Kind {
		case engine.KindDatabase:
			return fmt.Sprintf("projects/%s/instances/%s", project, attr(spec, gcp.AttrInstanceName))
		case engine.KindObjectStorage:
			return attr(spec, gcp.AttrName)
		case engine.KindKubernetesCluster:
			return fmt.Sprintf("projects/%s/locations/%s/clusters/%s", project, attr(spec, gcp.AttrLocation), attr(spec, gcp.AttrName))
		case engine.KindDNSZone:
			return fmt.Sprintf("projects/%s/managedZones/%s", project, attr(spec, gcp.AttrName))
		}
	}
	if spec.Kind.ClusterDependent() {
		return attr(spec, providers.AttrNamespace) + "/" + attr(spec, providers.AttrRelease)
	}
	return fmt.Sprintf("sim-%s-%s-%s", spec.Provider, spec.ID, digest(spec, "id")[:8])
}

func azureID(group, resourceType, name string) string {
	return fmt.Sprintf("/subscriptions/00000000-0000-0000-0000-000000000000/resourceGroups/%s/providers/%s/%s",
		group, resourceType, name)
}

func route53ZoneID(spec *engine.ResourceSpec) string {
	return "Z" + strings.ToUpper(digest(spec, "zone")[:20])
}

// rawOutputs returns the provider-shaped outputs of an applied spec.
func rawOutputs(spec *engine.ResourceSpec) map[string]string {
	if spec.Kind.ClusterDependent() {
		return helmOutputs(spec)
	}
	switch spec.Provider {
	case engine.ProviderAWS:
		return awsOutputs(spec)
	case engine.ProviderAzure:
		return azureOutputs(spec)
	case engine.ProviderGCP:
		return gcpOutputs(spec)
	}
	return map[string]string{}
}

func awsOutputs(spec *engine.ResourceSpec) map[string]string {
	region := or(attr(spec, aws.AttrRegion), "us-east-1")
	switch spec.Kind {
	case engine.KindDatabase:
		id := attr(spec, aws.AttrIdentifier)
		return map[string]string{
			"address":                fmt.Sprintf("%s.c%s.%s.rds.amazonaws.com", id, digest(spec, "rds")[:10], region),
			"port":                   databasePort(attr(spec, aws.AttrEngine)),
			"db_name":                attr(spec, aws.AttrDBName),
			"username":               attr(spec, aws.AttrUsername),
			"engine":                 attr(spec, aws.AttrEngine),
			"master_user_secret_arn": fmt.Sprintf("arn:aws:secretsmanager:%s:000000000000:secret:rds!%s", region, id),
		}
	case engine.KindObjectStorage:
		bucket := attr(spec, aws.AttrBucket)
		return map[string]string{
			"bucket":                      bucket,
			"bucket_regional_domain_name": fmt.Sprintf("%s.s3.%s.amazonaws.com", bucket, region),
			"region":                      region,
		}
	case engine.KindKubernetesCluster:
		return map[string]string{
			"name":                       attr(spec, aws.AttrName),
			"endpoint":                   fmt.Sprintf("https://%s.gr7.%s.eks.amazonaws.com", strings.ToUpper(digest(spec, "eks")[:32]), region),
			"version":                    attr(spec, aws.AttrVersion),
			"certificate_authority_data": fakeCA(spec),
		}
	case engine.KindDNSZone:
		return map[string]string{
			"zone_id":      route53ZoneID(spec),
			"name":         attr(spec, aws.AttrName),
			"name_servers": "ns-1024.awsdns-00.org,ns-1536.awsdns-00.co.uk,ns-0.awsdns-00.com,ns-512.awsdns-00.net",
		}
	}
	return map[string]string{}
}

func azureOutputs(spec *engine.ResourceSpec) map[string]string {
	switch spec.Kind {
	case engine.KindDatabase:
		server := attr(spec, azure.AttrServerName)
		suffix := "postgres.database.azure.com"
		if strings.HasPrefix(attr(spec, azure.AttrServerKind), "mysql") {
			suffix = "mysql.database.azure.com"
		}
		return map[string]string{
			"fqdn":                server + "." + suffix,
			"administrator_login": attr(spec, azure.AttrAdministratorLogin),
			"database_name":       attr(spec, azure.AttrDatabaseName),
			"password_secret_id":  fmt.Sprintf("https://kv%s.vault.azure.net/secrets/%s-admin-password", digest(spec, "kv")[:12], server),
		}
	case engine.KindObjectStorage:
		account := attr(spec, azure.AttrStorageAccountName)
		return map[string]string{
			"storage_account_name":  account,
			"primary_blob_endpoint": "https://" + account + ".blob.core.windows.net/",
			"container_name":        attr(spec, azure.AttrContainerName),
			"location":              attr(spec, azure.AttrLocation),
		}
	case engine.KindKubernetesCluster:
		return map[string]string{
			"name":                   attr(spec, azure.AttrName),
			"kube_config_host":       fmt.Sprintf("https://%s-%s.hcp.%s.azmk8s.io:443", attr(spec, azure.AttrDNSPrefix), digest(spec, "aks")[:8], attr(spec, azure.AttrLocation)),
			"kubernetes_version":     attr(spec, azure.AttrKubernetesVersion),
			"cluster_ca_certificate": fakeCA(spec),
			"resource_group_name":    attr(spec, azure.AttrResourceGroup),
		}
	case engine.KindDNSZone:
		return map[string]string{
			"id":           providerID(spec),
			"name":         attr(spec, azure.AttrName),
			"name_servers": "ns1-01.azure-dns.com.,ns2-01.azure-dns.net.,ns3-01.azure-dns.org.,ns4-01.azure-dns.info.",
		}
	}
	return map[string]string{}
}

func gcpOutputs(spec *engine.ResourceSpec) map[string]string {
	project := attr(spec, gcp.AttrProject)
	switch spec.Kind {
	case engine.KindDatabase:
		instance := attr(spec, gcp.AttrInstanceName)
		return map[string]string{
			"private_ip_address": fakeIP(spec, "10.20"),
			"connection_name":    fmt.Sprintf("%s:%s:%s", project, attr(spec, gcp.AttrRegion), instance),
			"database_name":      attr(spec, gcp.AttrDatabaseName),
			"user":               attr(spec, gcp.AttrUser),
			"password_secret":    fmt.Sprintf("projects/%s/secrets/%s-password", project, instance),
		}
	case engine.KindObjectStorage:
		name := attr(spec, gcp.AttrName)
		return map[string]string{
			"name": name,
			"url":  "gs://" + name,
		}
	case engine.KindKubernetesCluster:
		return map[string]string{
			"name":                   attr(spec, gcp.AttrName),
			"endpoint":               fakeIP(spec, "34.118"),
			"master_version":         or(attr(spec, gcp.AttrMinVersion), "1.31") + ".1-gke.1000",
			"cluster_ca_certificate": fakeCA(spec),
			"location":               attr(spec, gcp.AttrLocation),
			"project":                project,
		}
	case engine.KindDNSZone:
		return map[string]string{
			"id":           providerID(spec),
			"dns_name":     attr(spec, gcp.AttrDNSName),
			"name_servers": "ns-cloud-a1.googledomains.com.,ns-cloud-a2.googledomains.com.,ns-cloud-a3.googledomains.com.,ns-cloud-a4.googledomains.com.",
		}
	}
	return map[string]string{}
}

func helmOutputs(spec *engine.ResourceSpec) map[string]string {
	releaseName := attr(spec, providers.AttrRelease)
	namespace := attr(spec, providers.AttrNamespace)
	host := func(suffix string) string {
		return releaseName + suffix + "." + namespace + ".svc.cluster.local"
	}
	out := map[string]string{
		providers.RawReleaseName: releaseName,
		providers.RawNamespace:   namespace,
	}
	switch spec.Kind {
	case engine.KindMessageBroker:
		out[providers.RawServiceHost] = host("")
		out[providers.RawServicePort] = "5672"
		out[providers.RawSecretName] = releaseName + "-credentials"
	case engine.KindVectorStore:
		out[providers.RawServiceHost] = host("")
		out[providers.RawServicePort] = "6333"
		out[providers.RawSecretName] = releaseName + "-api-key"
	case engine.KindObservabilityStack:
		out[providers.RawGrafanaHost] = host("-grafana")
		out[providers.RawPrometheusHost] = host("-prometheus")
	case engine.KindClusterAddons:
		out[providers.RawServiceHost] = host("-controller")
	}
	return out
}

var (
	s3BucketName       = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	azureAccountName   = regexp.MustCompile(`^[a-z0-9]{3,24}$`)
	kubernetesResource = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,51}[a-z0-9])?$`)
)

// validate applies the naming rules the real providers enforce.
func validate(spec *engine.ResourceSpec) error {
	reject := func(field, format string, args ...interface{}) error {
		return engine.NewProviderValidationError(spec.ID, field, fmt.Sprintf(format, args...), nil)
	}
	switch {
	case spec.Kind.ClusterDependent():
		if name := attr(spec, providers.AttrRelease); !kubernetesResource.MatchString(name) {
			return reject(providers.AttrRelease, "invalid release name %q", name)
		}
	case spec.Provider == engine.ProviderAWS && spec.Kind == engine.KindObjectStorage:
		if name := attr(spec, aws.AttrBucket); !s3BucketName.MatchString(name) {
			return reject(aws.AttrBucket, "invalid bucket name %q", name)
		}
	case spec.Provider == engine.ProviderAzure && spec.Kind == engine.KindObjectStorage:
		if name := attr(spec, azure.AttrStorageAccountName); !azureAccountName.MatchString(name) {
			return reject(azure.AttrStorageAccountName, "invalid storage account name %q", name)
		}
	case spec.Provider == engine.ProviderAWS && spec.Kind == engine.KindDatabase:
		if gb, ok := spec.Attributes[aws.AttrAllocatedStorageGB].(int); ok && (gb < 20 || gb > 65536) {
			return reject(aws.AttrAllocatedStorageGB, "allocated storage must be between 20 and 65536 GB, got %d", gb)
		}
	}
	return nil
}
