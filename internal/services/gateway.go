package service

import (
	"context"

	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/provider"
)

// ProviderGateway is the slice of the provider client the services consume.
type ProviderGateway interface {
	ListCountries(ctx context.Context) (map[string]provider.CountryInfo, error)
	ListOperators(ctx context.Context, country, service string) (map[string]provider.OperatorInfo, error)
	ListProducts(ctx context.Context, country string) (map[string]map[string]map[string]provider.ProductOffer, error)
	Purchase(ctx context.Context, country, operator, product string) (*models.Activation, error)
	GetActivation(ctx context.Context, id int64) (*models.Activation, error)
	Finish(ctx context.Context, id int64) (*models.Activation, error)
	Cancel(ctx context.Context, id int64) (*models.Activation, error)
	Ban(ctx context.Context, id int64) (*models.Activation, error)
	Profile(ctx context.Context) (*provider.Profile, error)
	Operational(ctx context.Context) bool
}

var _ ProviderGateway = (*provider.Client)(nil)
