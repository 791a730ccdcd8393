// Package directory exposes the bike fleet to the booking core.
package directory

import (
	"context"
	"fmt"
	"sort"

	"velosta/internal/model"

	"github.com/rs/zerolog"
)

// BikeSource is the backend view of the fleet.
type BikeSource interface {
	ListBikes(ctx context.Context) ([]model.Bike, error)
	GetBike(ctx context.Context, id string) (*model.Bike, error)
}

// Directory reads bikes through to the backend on every call. Rates and
// statuses change behind our back, so nothing is kept between calls.
type Directory struct {
	source BikeSource
	logger zerolog.Logger
}

// New creates a Directory over source.
func New(source BikeSource, logger zerolog.Logger) *Directory {
	return &Directory{
		source: source,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// GetBikes returns the fleet ordered by name.
func (d *Directory) GetBikes(ctx context.Context) ([]model.Bike, error) {
	bikes, err := d.source.ListBikes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bikes: %w", err)
	}
	sort.SliceStable(bikes, func(i, j int) bool { return bikes[i].Name < bikes[j].Name })
	return bikes, nil
}

// GetBike returns one bike or a *model.NotFoundError.
func (d *Directory) GetBike(ctx context.Context, id string) (*model.Bike, error) {
	if id == "" {
		return nil, model.BikeNotFound(id)
	}
	bike, err := d.source.GetBike(ctx, id)
	if err != nil {
		if _, ok := model.IsNotFound(err); ok {
			d.logger.Debug().Str("bike_id", id).Msg("bike not found")
		}
		return nil, fmt.Errorf("get bike: %w", err)
	}
	if bike == nil {
		return nil, model.BikeNotFound(id)
	}
	return bike, nil
}

// CountByStatus tallies the fleet by status.
func (d *Directory) CountByStatus(ctx context.Context) (map[model.BikeStatus]int, error) {
	bikes, err := d.GetBikes(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[model.BikeStatus]int{
		model.BikeAvailable:   0,
		model.BikeRented:      0,
		model.BikeMaintenance: 0,
	}
	for i := range bikes {
		counts[bikes[i].Status]++
	}
	return counts, nil
}
