package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/config"
	"github.com/wipac/ltacoord/pkg/log"
	"github.com/wipac/ltacoord/pkg/retry"
	"github.com/wipac/ltacoord/pkg/stageaction"
	"github.com/wipac/ltacoord/pkg/types"
)

// requestCoordinatorClient is the narrow slice of pkg/client.Client a
// RequestWorker needs: claiming TransferRequests instead of Bundles, and
// committing a RequestAction's BundlePlans as real Bundles and Metadata.
type requestCoordinatorClient interface {
	PopRequest(ctx context.Context, source, dest, status, claimant string) (*types.TransferRequest, error)
	PatchRequest(ctx context.Context, uuid string, patch *client.RequestPatch, claimant string) (*types.TransferRequest, error)
	QuarantineRequest(ctx context.Context, uuid, reason, claimant string) (*types.TransferRequest, error)
	CreateBundles(ctx context.Context, bundles []*types.Bundle) ([]*types.Bundle, error)
	CreateMetadata(ctx context.Context, records []*types.Metadata) error
	Heartbeat(ctx context.Context, componentType, componentName string, status map[string]interface{}) error
}

// RequestWorker runs Picker or Locator against the Coordinator's
// TransferRequest claim queue: the same harness shape as Worker (heartbeat
// loop, claim/commit-or-quarantine work loop, termination modes), but
// popping TransferRequests and committing the Bundles/Metadata a
// RequestAction plans instead of PATCHing a single Bundle forward
// (spec.md §4.3 Worker Harness, §4.4 Picker/Locator).
type RequestWorker struct {
	cfg    *config.WorkerConfig
	coord  requestCoordinatorClient
	action stageaction.RequestAction

	stopCh chan struct{}
	stopMu sync.Once
}

// NewRequestWorker builds a RequestWorker for action, talking to the
// Coordinator through coord.
func NewRequestWorker(cfg *config.WorkerConfig, coord requestCoordinatorClient, action stageaction.RequestAction) *RequestWorker {
	return &RequestWorker{
		cfg:    cfg,
		coord:  coord,
		action: action,
		stopCh: make(chan struct{}),
	}
}

// Run executes the full lifecycle of a RequestWorker instance, identical
// in shape to Worker.Run.
func (w *RequestWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutdown signal received")
			w.Stop()
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()

	err := w.workLoop(ctx)
	w.Stop()
	wg.Wait()
	return err
}

// Stop signals every loop to exit after its current iteration.
func (w *RequestWorker) Stop() {
	w.stopMu.Do(func() { close(w.stopCh) })
}

func (w *RequestWorker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatSleepDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *RequestWorker) sendHeartbeat(ctx context.Context) {
	status := map[string]interface{}{"input_status": w.cfg.InputStatus}
	err := retry.Do(ctx, w.cfg.HeartbeatPatchRetries, time.Second, w.cfg.HeartbeatPatchTimeout, func() error {
		hbCtx, cancel := context.WithTimeout(ctx, w.cfg.HeartbeatPatchTimeout)
		defer cancel()
		return w.coord.Heartbeat(hbCtx, w.cfg.ComponentName, w.cfg.ComponentName, status)
	})
	if err != nil {
		log.Logger.Warn().Err(err).Msg("heartbeat exhausted retries, continuing")
	}
}

func (w *RequestWorker) workLoop(ctx context.Context) error {
	for {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimed, err := w.runOnce(ctx)
		if err != nil {
			log.Logger.Error().Err(err).Msg("work cycle failed")
		}

		if w.cfg.RunOnceAndDie {
			return nil
		}
		if w.cfg.RunUntilNoWork && !claimed {
			return nil
		}

		if !claimed {
			select {
			case <-time.After(w.cfg.WorkSleepDuration):
			case <-w.stopCh:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// runOnce performs a single POP/Run/commit-or-quarantine cycle, returning
// whether a request was claimed.
func (w *RequestWorker) runOnce(ctx context.Context) (bool, error) {
	popCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	req, err := w.coord.PopRequest(popCtx, w.cfg.SourceSite, w.cfg.DestSite, w.cfg.InputStatus, w.cfg.ComponentName)
	cancel()
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, nil
	}

	log.Logger.Info().Str("request", req.UUID).Str("stage", w.action.Name()).Msg("claimed request")

	actionCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	plans, runErr := w.action.Run(actionCtx, req)
	cancel()

	if runErr != nil {
		if errors.Is(runErr, stageaction.ErrSkip) {
			return true, w.releaseClaim(ctx, req.UUID)
		}
		return true, w.quarantine(ctx, req.UUID, runErr)
	}

	return true, w.commit(ctx, req.UUID, plans)
}

// commit creates the Bundles and Metadata a RequestAction planned, then
// advances the TransferRequest to OUTPUT_STATUS and releases the claim.
func (w *RequestWorker) commit(ctx context.Context, requestUUID string, plans []stageaction.BundlePlan) error {
	bundles := make([]*types.Bundle, len(plans))
	for i, p := range plans {
		bundles[i] = p.Bundle
	}

	createCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	created, err := w.coord.CreateBundles(createCtx, bundles)
	cancel()
	if err != nil {
		return err
	}

	var records []*types.Metadata
	for i, p := range plans {
		for _, id := range p.FileCatalogIDs {
			records = append(records, &types.Metadata{Bundle: created[i].UUID, FileCatalogID: id})
		}
	}
	if len(records) > 0 {
		mdCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
		err := w.coord.CreateMetadata(mdCtx, records)
		cancel()
		if err != nil {
			return err
		}
	}

	status := types.RequestStatus(w.cfg.OutputStatus)
	released := false
	patchCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	defer cancel()
	_, err = w.coord.PatchRequest(patchCtx, requestUUID, &client.RequestPatch{
		Status:     &status,
		Claimed:    &released,
		ClearClaim: true,
	}, w.cfg.ComponentName)
	return err
}

func (w *RequestWorker) releaseClaim(ctx context.Context, uuid string) error {
	released := false
	patchCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	defer cancel()
	_, err := w.coord.PatchRequest(patchCtx, uuid, &client.RequestPatch{Claimed: &released, ClearClaim: true}, w.cfg.ComponentName)
	return err
}

func (w *RequestWorker) quarantine(ctx context.Context, uuid string, runErr error) error {
	reason := runErr.Error()
	var qe *stageaction.Error
	if errors.As(runErr, &qe) {
		reason = qe.QuarantineReason()
	}
	log.Logger.Error().Str("request", uuid).Str("reason", reason).Msg("quarantining request")

	quarCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	defer cancel()
	_, err := w.coord.QuarantineRequest(quarCtx, uuid, reason, w.cfg.ComponentName)
	return err
}
