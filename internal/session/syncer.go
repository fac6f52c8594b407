package session

import (
	"context"

	"github.com/brewtap/pillsync/internal/meadtools"
)

// Syncer is the engine's view of the remote brewing tracker. The production
// implementation is *meadtools.Client.
type Syncer interface {
	EnsureLoggedIn(ctx context.Context) error
	ResolveHydrometer(ctx context.Context, name string) (int64, error)
	ResolveBrew(ctx context.Context, brewName string, hydrometerID int64) (int64, error)
	LinkRecipe(ctx context.Context, brewID int64, recipeID int) error
	EndBrew(ctx context.Context, hydrometerID, brewID int64) error
	PublishDataPoint(ctx context.Context, dp meadtools.DataPoint) error
}

var _ Syncer = (*meadtools.Client)(nil)
