// Package stageaction implements the Stage Action Catalog (spec.md §4.4):
// one type per pipeline stage, each consuming a Bundle in its INPUT_STATUS
// and producing either a patch that advances it to OUTPUT_STATUS or an
// error that causes the worker harness to quarantine it.
package stageaction

import (
	"context"
	"fmt"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

// Action is the uniform shape every stage worker drives (spec.md §4.3
// "Action interface"). Implementations must be safe to retry: a bundle
// re-claimed after a crash mid-action must produce the same result.
type Action interface {
	// Name identifies the stage for logging and quarantine reasons, e.g.
	// "bundler" or "nersc-mover".
	Name() string
	// InputStatus is the bundle status this stage claims work from.
	InputStatus() types.BundleStatus
	// OutputStatus is the bundle status a successful Run advances to.
	OutputStatus() types.BundleStatus
	// Run performs the stage's side effects against bundle and returns the
	// field updates to PATCH on success. An error causes the harness to
	// quarantine the bundle with a reason built from the error text.
	Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error)
}

// BundlePlan is one Bundle a RequestAction wants created, paired with the
// File Catalog identifiers of the files it covers. Bundles carry no file
// list of their own (spec.md §9 open question) — the Metadata side-table
// does, so the harness creates it once the Bundle has a real UUID.
type BundlePlan struct {
	Bundle         *types.Bundle
	FileCatalogIDs []string
}

// RequestAction is the Picker/Locator variant of the Stage Action Catalog:
// rather than advancing one Bundle's status, it expands a TransferRequest
// into the Bundles (and their Metadata) later stages will claim (spec.md
// §4.4 Picker/Locator).
type RequestAction interface {
	// Name identifies the stage for logging and quarantine reasons.
	Name() string
	// Run queries external collaborators for req and returns the Bundles
	// to create. An error causes the harness to quarantine the request.
	Run(ctx context.Context, req *types.TransferRequest) ([]BundlePlan, error)
}

// Error wraps a stage failure with the short human phrase the harness
// records as a bundle's quarantine reason (spec.md §5: "stage: short
// human phrase").
type Error struct {
	Stage  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// QuarantineReason formats the reason string the harness PATCHes onto a
// quarantined bundle.
func (e *Error) QuarantineReason() string {
	return e.Stage + ": " + e.Reason
}

func fail(stage, reason string, err error) error {
	return &Error{Stage: stage, Reason: reason, Err: err}
}

// statusPatch is a small helper every stage uses to build the minimal
// success patch: advance status and release the claim.
func statusPatch(status types.BundleStatus) *client.PopBundlePatch {
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		Claimed:    &released,
		ClearClaim: true,
	}
}
