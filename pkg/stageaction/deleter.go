package stageaction

import (
	"context"
	"os"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

// Deleter removes a staging copy once it is no longer needed. One
// instance handles completed → source-deleted (removing the source
// site's staged copy); a second, configured with its own PathOf and
// From/To pair, handles source-deleted → deleted (spec.md §4.4 Deleter).
type Deleter struct {
	// PathOf resolves which path on disk this instance is responsible for
	// deleting: the source staging copy or the destination staging copy.
	PathOf func(bundle *types.Bundle) string
	// From and To are the input and output statuses for this instance;
	// the Deleter stage runs twice with different (from, to) pairs.
	From, To types.BundleStatus
}

// Name implements Action.
func (d *Deleter) Name() string { return "deleter" }

// InputStatus implements Action.
func (d *Deleter) InputStatus() types.BundleStatus { return d.From }

// OutputStatus implements Action.
func (d *Deleter) OutputStatus() types.BundleStatus { return d.To }

// Run implements Action.
func (d *Deleter) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	path := d.PathOf(bundle)
	if path == "" {
		return statusPatch(d.OutputStatus()), nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fail(d.Name(), "could not delete staging copy", err)
	}
	return statusPatch(d.OutputStatus()), nil
}
