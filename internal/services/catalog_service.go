package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/lunovey/simshop/internal/infrastructure/redis"
	"github.com/lunovey/simshop/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	countriesCacheTTL = time.Hour
	pricesCacheTTL    = 5 * time.Minute
)

// CatalogService serves the storefront catalog (countries, operators, prices)
// with a cache-aside layer in front of the provider.
type CatalogService interface {
	Countries(ctx context.Context) (map[string]provider.CountryInfo, error)
	Operators(ctx context.Context, country, service string) (map[string]provider.OperatorInfo, error)
	Products(ctx context.Context, country string) (map[string]map[string]map[string]provider.ProductOffer, error)
	Operational(ctx context.Context) bool
}

type catalogService struct {
	gateway     ProviderGateway
	redisClient redis.RedisClient
}

func NewCatalogService(gateway ProviderGateway, redisClient redis.RedisClient) *catalogService {
	return &catalogService{gateway: gateway, redisClient: redisClient}
}

func (s *catalogService) Countries(ctx context.Context) (map[string]provider.CountryInfo, error) {
	tracer := otel.Tracer("catalog-service")
	ctx, span := tracer.Start(ctx, "Countries")
	defer span.End()

	var countries map[string]provider.CountryInfo
	if ok := s.fromCache(ctx, "catalog:countries", &countries); ok {
		return countries, nil
	}

	countries, err := s.gateway.ListCountries(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "countries fetch failed")
		return nil, err
	}

	s.toCache(ctx, "catalog:countries", countries, countriesCacheTTL)
	return countries, nil
}

func (s *catalogService) Operators(ctx context.Context, country, service string) (map[string]provider.OperatorInfo, error) {
	tracer := otel.Tracer("catalog-service")
	ctx, span := tracer.Start(ctx, "Operators")
	defer span.End()

	key := fmt.Sprintf("catalog:operators:%s:%s", country, service)
	var operators map[string]provider.OperatorInfo
	if ok := s.fromCache(ctx, key, &operators); ok {
		return operators, nil
	}

	operators, err := s.gateway.ListOperators(ctx, country, service)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operators fetch failed")
		return nil, err
	}

	s.toCache(ctx, key, operators, pricesCacheTTL)
	return operators, nil
}

func (s *catalogService) Products(ctx context.Context, country string) (map[string]map[string]map[string]provider.ProductOffer, error) {
	tracer := otel.Tracer("catalog-service")
	ctx, span := tracer.Start(ctx, "Products")
	defer span.End()

	key := "catalog:prices:" + country
	var products map[string]map[string]map[string]provider.ProductOffer
	if ok := s.fromCache(ctx, key, &products); ok {
		return products, nil
	}

	products, err := s.gateway.ListProducts(ctx, country)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "products fetch failed")
		return nil, err
	}

	s.toCache(ctx, key, products, pricesCacheTTL)
	return products, nil
}

func (s *catalogService) Operational(ctx context.Context) bool {
	return s.gateway.Operational(ctx)
}

// fromCache and toCache never fail the request: a broken cache degrades to a
// provider round trip.

func (s *catalogService) fromCache(ctx context.Context, key string, out interface{}) bool {
	cached, err := s.redisClient.Get(ctx, key)
	if err != nil {
		if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("catalog cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(cached), out); err != nil {
		slog.Warn("catalog cache entry malformed", "key", key, "error", err)
		return false
	}
	return true
}

func (s *catalogService) toCache(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	bytes, err := json.Marshal(value)
	if err != nil {
		slog.Warn("catalog cache marshal failed", "key", key, "error", err)
		return
	}
	if err := s.redisClient.Set(ctx, key, string(bytes), ttl); err != nil {
		slog.Warn("catalog cache write failed", "key", key, "error", err)
	}
}
