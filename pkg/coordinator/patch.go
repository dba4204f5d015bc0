package coordinator

import (
	"time"

	"github.com/wipac/ltacoord/pkg/types"
)

// RequestPatch is a partial update to a TransferRequest. Nil fields are
// left untouched; this mirrors the PATCH semantics of spec.md §4.1.
type RequestPatch struct {
	Status                *types.RequestStatus `json:"status,omitempty"`
	Claimed               *bool                `json:"claimed,omitempty"`
	Claimant              *string              `json:"claimant,omitempty"`
	ClearClaim            bool                 `json:"clear_claim,omitempty"`
	WorkPriorityTimestamp *time.Time           `json:"work_priority_timestamp,omitempty"`
}

func (p *RequestPatch) apply(r *types.TransferRequest) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ClearClaim {
		r.Claimed = false
		r.Claimant = ""
		r.ClaimTimestamp = nil
	} else {
		if p.Claimed != nil {
			r.Claimed = *p.Claimed
		}
		if p.Claimant != nil {
			r.Claimant = *p.Claimant
		}
	}
	if p.WorkPriorityTimestamp != nil {
		r.WorkPriorityTimestamp = *p.WorkPriorityTimestamp
	}
}

// BundlePatch is a partial update to a Bundle. Workers use this to set the
// next status, attach action results, or release their claim.
type BundlePatch struct {
	Status                *types.BundleStatus `json:"status,omitempty"`
	BundlePath            *string             `json:"bundle_path,omitempty"`
	Size                  *int64              `json:"size,omitempty"`
	Checksum              types.ChecksumSet   `json:"checksum,omitempty"`
	Verified              *bool               `json:"verified,omitempty"`
	Claimed               *bool               `json:"claimed,omitempty"`
	Claimant              *string             `json:"claimant,omitempty"`
	ClearClaim            bool                `json:"clear_claim,omitempty"`
	WorkPriorityTimestamp *time.Time          `json:"work_priority_timestamp,omitempty"`
}

// validate rejects attempts to change an already-set checksum field
// (spec.md §3: "Checksums recorded on a bundle are immutable once set").
func (p *BundlePatch) validate(b *types.Bundle) error {
	if p.Checksum == nil {
		return nil
	}
	for algo, sum := range p.Checksum {
		if existing, ok := b.Checksum[algo]; ok && existing != sum {
			return validationError("checksum[" + algo + "] is immutable once set")
		}
	}
	return nil
}

func (p *BundlePatch) apply(b *types.Bundle) {
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.BundlePath != nil {
		b.BundlePath = *p.BundlePath
	}
	if p.Size != nil {
		b.Size = *p.Size
	}
	if p.Checksum != nil {
		if b.Checksum == nil {
			b.Checksum = make(types.ChecksumSet, len(p.Checksum))
		}
		for algo, sum := range p.Checksum {
			b.Checksum[algo] = sum
		}
	}
	if p.Verified != nil {
		b.Verified = *p.Verified
	}
	if p.ClearClaim {
		b.Claimed = false
		b.Claimant = ""
		b.ClaimTimestamp = nil
	} else {
		if p.Claimed != nil {
			b.Claimed = *p.Claimed
		}
		if p.Claimant != nil {
			b.Claimant = *p.Claimant
		}
	}
	if p.WorkPriorityTimestamp != nil {
		b.WorkPriorityTimestamp = *p.WorkPriorityTimestamp
	}
}
