// Package inputs defines the typed events produced by the log generators
// and consumed by the indicators. The set is closed: dispatch over it is
// exhaustive by construction.
package inputs

import "time"

// Input is the common type of all generator outputs.
type Input interface {
	isInput()
}

// PackageRequest is emitted for every request hitting a configured package.
// It carries the request timestamp because usage recorders bucket activity
// into 10-minute slots.
type PackageRequest struct {
	Ts    time.Time
	Title string
}

// PackageHomeVisit is emitted when a request lands on a package's home page.
type PackageHomeVisit struct {
	Title string
}

// PackageItemVisit is emitted for a content object inside a package (a zim
// article, a shared file). Only produced when the item-visit indicator is
// enabled.
type PackageItemVisit struct {
	Title    string
	ItemPath string
}

// OperationKind distinguishes shared-files operations.
type OperationKind string

const (
	OperationCreated OperationKind = "created"
	OperationDeleted OperationKind = "deleted"
)

// SharedFilesOperation is emitted when files are added to or removed from a
// file-sharing package (edupi, file-manager).
type SharedFilesOperation struct {
	Kind  OperationKind
	Count int64
}

// ClockTick is generated by the processor on every tick; it drives the
// uptime indicator.
type ClockTick struct {
	Ts time.Time
}

func (PackageRequest) isInput()       {}
func (PackageHomeVisit) isInput()     {}
func (PackageItemVisit) isInput()     {}
func (SharedFilesOperation) isInput() {}
func (ClockTick) isInput()            {}
