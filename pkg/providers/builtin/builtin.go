// Package builtin assembles the registry of every built-in builder.
package builtin

import (
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
	"github.com/openfroyo/cloudplan/pkg/providers/aws"
	"github.com/openfroyo/cloudplan/pkg/providers/azure"
	"github.com/openfroyo/cloudplan/pkg/providers/gcp"
)

// Default returns a registry holding the AWS, Azure and GCP builders. It
// fails when any (kind, provider) combination lacks a builder.
func Default() (*providers.Registry, error) {
	r := providers.NewRegistry()
	r.Register(aws.Builders()...)
	r.Register(azure.Builders()...)
	r.Register(gcp.Builders()...)
	if err := r.ValidateMatrix(engine.AllKinds(), engine.AllProviders()); err != nil {
		return nil, err
	}
	return r, nil
}
