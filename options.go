package fiber

import (
	"context"

	"github.com/ehrlich-b/go-fiber/internal/constants"
	"github.com/ehrlich-b/go-fiber/internal/logging"
)

// Options configures a new Runtime. There is no config file or
// environment-variable surface: the fiber core has no wire protocol, so
// this plain struct is the entire ambient configuration contract,
// mirroring the teacher's Options{Context, Logger, Observer}.
type Options struct {
	// Context bounds the Runtime's lifetime the way it bounds the
	// teacher's Device: when it is cancelled, a blocked MainLoop wakes up
	// and returns, even if fibers remain Runnable or Parked. Defaults to
	// context.Background() (never cancelled) if nil.
	Context context.Context

	// Logger receives Debug/Info/Warn/Error messages for scheduler state
	// transitions. Defaults to logging.Default() if nil.
	Logger *logging.Logger

	// Observer receives scheduler lifecycle events. Defaults to a
	// NoOpObserver if nil.
	Observer Observer

	// StackSize is the usable stack size given to each spawned fiber, in
	// bytes. Defaults to constants.DefaultStackSize.
	StackSize int

	// RegionPageSize is the minimum size of a region allocator page.
	// Defaults to constants.DefaultRegionPageSize. It is read once, when
	// New creates the Runtime, and applies to every fiber's region for
	// the Runtime's lifetime.
	RegionPageSize int
}

// DefaultOptions returns an Options with every field set to its default.
func DefaultOptions() Options {
	return Options{
		Context:        context.Background(),
		Logger:         logging.Default(),
		Observer:       NoOpObserver{},
		StackSize:      constants.DefaultStackSize,
		RegionPageSize: constants.DefaultRegionPageSize,
	}
}

func (o Options) withDefaults() Options {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Observer == nil {
		o.Observer = NoOpObserver{}
	}
	if o.StackSize <= 0 {
		o.StackSize = constants.DefaultStackSize
	}
	if o.RegionPageSize <= 0 {
		o.RegionPageSize = constants.DefaultRegionPageSize
	}
	return o
}
