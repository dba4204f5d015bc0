package stageaction

import (
	"context"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

// terminalBundleStatuses are the statuses a bundle must reach before its
// TransferRequest can be marked finished (spec.md §4.4
// Transfer-Request-Finisher).
var terminalBundleStatuses = map[types.BundleStatus]bool{
	types.BundleStatusDeleted:   true,
	types.BundleStatusCompleted: true,
	types.BundleStatusFinished:  true,
}

// RequestFinisher marks a TransferRequest finished once every bundle it
// expanded into has reached a terminal status. It runs against bundles in
// "deleted", the last archival-pipeline status, and checks its siblings
// before deciding (spec.md §4.4: "When all bundles of a request are
// terminal, mark the TransferRequest finished").
type RequestFinisher struct {
	BundlesForRequest func(ctx context.Context, requestUUID string) ([]*types.Bundle, error)
	FinishRequest     func(ctx context.Context, requestUUID string) error
}

// Name implements Action.
func (f *RequestFinisher) Name() string { return "transfer-request-finisher" }

// InputStatus implements Action.
func (f *RequestFinisher) InputStatus() types.BundleStatus { return types.BundleStatusDeleted }

// OutputStatus implements Action.
func (f *RequestFinisher) OutputStatus() types.BundleStatus { return types.BundleStatusFinished }

// Run implements Action.
func (f *RequestFinisher) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	siblings, err := f.BundlesForRequest(ctx, bundle.Request)
	if err != nil {
		return nil, fail(f.Name(), "could not list sibling bundles", err)
	}

	for _, sibling := range siblings {
		if sibling.UUID == bundle.UUID {
			continue
		}
		if !terminalBundleStatuses[sibling.Status] {
			return nil, ErrSkip
		}
	}

	if err := f.FinishRequest(ctx, bundle.Request); err != nil {
		return nil, fail(f.Name(), "could not mark transfer request finished", err)
	}

	return statusPatch(f.OutputStatus()), nil
}
