// Package worker is the generic stage-agnostic harness every ltaworker
// process embeds: it acquires a bearer token, runs a heartbeat loop
// alongside a work loop, and drives one stageaction.Action to completion
// or quarantine per claimed bundle (spec.md §4.3 Worker Harness).
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

// coordinatorClient is the narrow slice of pkg/client.Client the harness
// needs, so tests can substitute a fake without standing up an HTTP server.
type coordinatorClient interface {
	PopBundle(ctx context.Context, source, dest, status, claimant string) (*types.Bundle, error)
	PatchBundle(ctx context.Context, uuid string, patch *client.PopBundlePatch, claimant string) (*types.Bundle, error)
	QuarantineBundle(ctx context.Context, uuid, reason, claimant string) (*types.Bundle, error)
	Heartbeat(ctx context.Context, componentType, componentName string, status map[string]interface{}) error
}

// Worker runs one stage's Action against the Coordinator's claim queue.
type Worker struct {
	cfg    *config.WorkerConfig
	coord  coordinatorClient
	action stageaction.Action

	stopCh chan struct{}
	stopMu sync.Once
}

// New builds a Worker for action, talking to the Coordinator through coord.
func New(cfg *config.WorkerConfig, coord coordinatorClient, action stageaction.Action) *Worker {
	return &Worker{
		cfg:    cfg,
		coord:  coord,
		action: action,
		stopCh: make(chan struct{}),
	}
}

// Run executes the full lifecycle of a worker instance (spec.md §4.3
// steps 3-6): launches the heartbeat loop, then runs the work loop until
// a termination condition or shutdown signal fires.
func (w *Worker) Run(ctx context.Context) error {
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
func (w *Worker) Stop() {
	w.stopMu.Do(func() { close(w.stopCh) })
}

// heartbeatLoop upserts this component's liveness record on
// HEARTBEAT_SLEEP_DURATION_SECONDS, retrying transient failures and
// logging-then-continuing on exhaustion (spec.md §4.3 step 3: "liveness
// is best-effort; reaping covers the failure").
func (w *Worker) heartbeatLoop(ctx context.Context) {
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

func (w *Worker) sendHeartbeat(ctx context.Context) {
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

// workLoop is spec.md §4.3 step 4: POP, run the action, PATCH the result
// or quarantine, then apply the configured termination mode.
func (w *Worker) workLoop(ctx context.Context) error {
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

// runOnce performs a single POP/Run/PATCH-or-quarantine cycle, returning
// whether a bundle was claimed.
func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	popCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	bundle, err := w.coord.PopBundle(popCtx, w.cfg.SourceSite, w.cfg.DestSite, w.cfg.InputStatus, w.cfg.ComponentName)
	cancel()
	if err != nil {
		return false, err
	}
	if bundle == nil {
		return false, nil
	}

	log.Logger.Info().Str("bundle", bundle.UUID).Str("stage", w.action.Name()).Msg("claimed bundle")

	actionCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	patch, runErr := w.action.Run(actionCtx, bundle)
	cancel()

	if runErr != nil {
		if errors.Is(runErr, stageaction.ErrSkip) {
			return true, w.releaseClaim(ctx, bundle.UUID)
		}
		return true, w.quarantine(ctx, bundle.UUID, runErr)
	}

	return true, w.applyPatch(ctx, bundle.UUID, patch)
}

func (w *Worker) applyPatch(ctx context.Context, uuid string, patch *client.PopBundlePatch) error {
	patchCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	defer cancel()
	_, err := w.coord.PatchBundle(patchCtx, uuid, patch, w.cfg.ComponentName)
	return err
}

func (w *Worker) releaseClaim(ctx context.Context, uuid string) error {
	released := false
	return w.applyPatch(ctx, uuid, &client.PopBundlePatch{Claimed: &released, ClearClaim: true})
}

func (w *Worker) quarantine(ctx context.Context, uuid string, runErr error) error {
	reason := runErr.Error()
	var qe *stageaction.Error
	if errors.As(runErr, &qe) {
		reason = qe.QuarantineReason()
	}
	log.Logger.Error().Str("bundle", uuid).Str("reason", reason).Msg("quarantining bundle")

	quarCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout)
	defer cancel()
	_, err := w.coord.QuarantineBundle(quarCtx, uuid, reason, w.cfg.ComponentName)
	return err
}
