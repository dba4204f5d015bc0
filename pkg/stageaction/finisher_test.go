package stageaction

import (
	"context"
	"errors"
	"testing"

	"github.com/wipac/ltacoord/pkg/types"
)

func TestRequestFinisherSkipsWhenSiblingNotTerminal(t *testing.T) {
	f := &RequestFinisher{
		BundlesForRequest: func(ctx context.Context, requestUUID string) ([]*types.Bundle, error) {
			return []*types.Bundle{
				{UUID: "this-one", Status: types.BundleStatusDeleted},
				{UUID: "sibling", Status: types.BundleStatusTransferring},
			}, nil
		},
		FinishRequest: func(ctx context.Context, requestUUID string) error {
			t.Fatal("FinishRequest should not be called while a sibling is not terminal")
			return nil
		},
	}

	bundle := &types.Bundle{UUID: "this-one", Request: "req-1", Status: types.BundleStatusDeleted}
	_, err := f.Run(context.Background(), bundle)
	if !errors.Is(err, ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}
}

func TestRequestFinisherFinishesWhenAllTerminal(t *testing.T) {
	finished := false
	f := &RequestFinisher{
		BundlesForRequest: func(ctx context.Context, requestUUID string) ([]*types.Bundle, error) {
			return []*types.Bundle{
				{UUID: "this-one", Status: types.BundleStatusDeleted},
				{UUID: "sibling", Status: types.BundleStatusCompleted},
			}, nil
		},
		FinishRequest: func(ctx context.Context, requestUUID string) error {
			finished = true
			return nil
		},
	}

	bundle := &types.Bundle{UUID: "this-one", Request: "req-1", Status: types.BundleStatusDeleted}
	patch, err := f.Run(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !finished {
		t.Fatal("expected FinishRequest to be called")
	}
	if *patch.Status != types.BundleStatusFinished {
		t.Errorf("expected status finished, got %s", *patch.Status)
	}
}
