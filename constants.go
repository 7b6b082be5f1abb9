package fiber

import "github.com/ehrlich-b/go-fiber/internal/constants"

// Re-export tunables callers might want to reference without reaching into
// internal/constants directly.
const (
	DefaultStackSize      = constants.DefaultStackSize
	DefaultRegionPageSize = constants.DefaultRegionPageSize
)
