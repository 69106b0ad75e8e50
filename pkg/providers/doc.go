// Package providers selects and runs resource builders.
//
// A Builder turns the canonical configuration of one logical kind into a
// provider-specific engine.ResourceSpec, and later maps the raw outputs a
// driver reported back to the kind's logical output keys. Builders for each
// cloud live in the aws, azure and gcp subpackages; the Helm-based kinds
// that run inside the cluster share one implementation parameterized by a
// Flavor. Package builtin wires all of them into a Registry.
//
// Sizing starts from the TierProfile of the environment's tier. Options the
// operator sets explicitly win over tier defaults.
package providers
