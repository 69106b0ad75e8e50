// Package config loads cloudplan environment documents and resolves their
// option aliases into one canonical configuration.
//
// # Overview
//
// A document has an environment section and one section per logical resource
// kind. Many options can be written under several keys (region or location,
// name or project_name); Resolve normalizes every section against the option
// catalog so builders read each option under exactly one name.
//
// # Components
//
// Loader: Decodes YAML, JSON, CUE and Starlark documents, selected by file
// extension. CUE documents are validated against the built-in #Document schema
// first. Starlark documents run under a step limit; their public globals
// become sections.
//
// SchemaRegistry: Holds compiled CUE schemas. The built-in "document" schema
// types the environment section and keeps resource sections open.
//
// Resolve: Pure alias resolution. Two aliases carrying different non-empty
// values fail with an AMBIGUOUS_ALIAS ConfigError; unknown keys become warnings.
//
// BuildEnvironment: Validates the resolved environment with validator/v10.
//
// # Usage Example
//
//	raw, err := config.NewLoader().LoadFile("prod.yaml")
//	if err != nil {
//	    return err
//	}
//	raw = config.ApplyOverrides(raw, config.Overrides{Provider: "gcp"})
//
//	canonical, err := config.Resolve(raw)
//	if err != nil {
//	    return err
//	}
//	env, err := config.BuildEnvironment(canonical)
//
// # Document Structure
//
//	environment:
//	  name: acme-prod
//	  cloud: aws          # alias of provider
//	  tier: production
//	  location: eu-west-1 # alias of region
//	database:
//	  storage_mb: 20480   # legacy unit, converted by the builder
//	kubernetes_cluster:
//	  min_nodes: 3
//	cluster_addons:
//	  external_dns: true
//	vector_store:
//	  enabled: false
package config
