// Package indicators defines the closed set of stateful hourly accumulators.
// Each indicator maps an accepted input to a dimension tuple and owns the
// recorder kind accumulating under that tuple. The numeric identifiers are
// stable wire contracts.
package indicators

import (
	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
	"github.com/offspot-lab/offspot-metrics/internal/recorders"
)

const (
	IDPackageHomeVisit      = 1001
	IDPackageItemVisit      = 1002
	IDSharedFilesOperations = 1003
	IDUptime                = 1004
	IDTotalUsageOverall     = 1005
	IDTotalUsageByPackage   = 1006
)

// Indicator describes one accumulator family.
type Indicator interface {
	ID() int

	// Match reports whether the indicator accepts the input and, if so, the
	// dimension tuple it accumulates under.
	Match(in inputs.Input) (storage.DimensionsValues, bool)

	NewRecorder() recorders.Recorder
}

// PackageHomeVisit counts visits of a package's home page, by title.
type PackageHomeVisit struct{}

func (PackageHomeVisit) ID() int { return IDPackageHomeVisit }

func (PackageHomeVisit) Match(in inputs.Input) (storage.DimensionsValues, bool) {
	v, ok := in.(inputs.PackageHomeVisit)
	if !ok {
		return storage.DimensionsValues{}, false
	}
	return storage.NewDimensions(v.Title), true
}

func (PackageHomeVisit) NewRecorder() recorders.Recorder { return recorders.NewIntCounter() }

// PackageItemVisit counts visits of individual content objects, by title
// and item path. Not registered by default; see DefaultRegistry.
type PackageItemVisit struct{}

func (PackageItemVisit) ID() int { return IDPackageItemVisit }

func (PackageItemVisit) Match(in inputs.Input) (storage.DimensionsValues, bool) {
	v, ok := in.(inputs.PackageItemVisit)
	if !ok {
		return storage.DimensionsValues{}, false
	}
	return storage.NewDimensions(v.Title, v.ItemPath), true
}

func (PackageItemVisit) NewRecorder() recorders.Recorder { return recorders.NewIntCounter() }

// SharedFilesOperations counts created/deleted shared files, by operation
// kind. The recorder adds the operation's carried count.
type SharedFilesOperations struct{}

func (SharedFilesOperations) ID() int { return IDSharedFilesOperations }

func (SharedFilesOperations) Match(in inputs.Input) (storage.DimensionsValues, bool) {
	v, ok := in.(inputs.SharedFilesOperation)
	if !ok {
		return storage.DimensionsValues{}, false
	}
	return storage.NewDimensions(string(v.Kind)), true
}

func (SharedFilesOperations) NewRecorder() recorders.Recorder { return recorders.NewIntCounter() }

// Uptime counts processor clock ticks, one per minute of engine activity.
type Uptime struct{}

func (Uptime) ID() int { return IDUptime }

func (Uptime) Match(in inputs.Input) (storage.DimensionsValues, bool) {
	if _, ok := in.(inputs.ClockTick); !ok {
		return storage.DimensionsValues{}, false
	}
	return storage.DimensionsValues{}, true
}

func (Uptime) NewRecorder() recorders.Recorder { return recorders.NewIntCounter() }

// TotalUsageOverall tracks 10-minute activity slots across all packages.
type TotalUsageOverall struct{}

func (TotalUsageOverall) ID() int { return IDTotalUsageOverall }

func (TotalUsageOverall) Match(in inputs.Input) (storage.DimensionsValues, bool) {
	if _, ok := in.(inputs.PackageRequest); !ok {
		return storage.DimensionsValues{}, false
	}
	return storage.DimensionsValues{}, true
}

func (TotalUsageOverall) NewRecorder() recorders.Recorder { return recorders.NewUsage() }

// TotalUsageByPackage tracks 10-minute activity slots per package title.
// Its slot set is independent from TotalUsageOverall: the same request
// contributes to both.
type TotalUsageByPackage struct{}

func (TotalUsageByPackage) ID() int { return IDTotalUsageByPackage }

func (TotalUsageByPackage) Match(in inputs.Input) (storage.DimensionsValues, bool) {
	v, ok := in.(inputs.PackageRequest)
	if !ok {
		return storage.DimensionsValues{}, false
	}
	return storage.NewDimensions(v.Title), true
}

func (TotalUsageByPackage) NewRecorder() recorders.Recorder { return recorders.NewUsage() }

// DefaultRegistry returns the indicators active in production.
// PackageItemVisit is left out because per-object tracking multiplies
// record cardinality; WithItemVisits opts in.
func DefaultRegistry() []Indicator {
	return []Indicator{
		PackageHomeVisit{},
		SharedFilesOperations{},
		Uptime{},
		TotalUsageOverall{},
		TotalUsageByPackage{},
	}
}

// WithItemVisits appends the item-visit indicator to a registry.
func WithItemVisits(registry []Indicator) []Indicator {
	return append(registry, PackageItemVisit{})
}
