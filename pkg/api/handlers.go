package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wipac/ltacoord/pkg/coordinator"
	"github.com/wipac/ltacoord/pkg/storage"
	"github.com/wipac/ltacoord/pkg/types"
)

// handlers holds the dependencies shared by every route handler.
type handlers struct {
	coord *coordinator.Coordinator
}

func writeCoordErr(w http.ResponseWriter, err error) {
	var verr *coordinator.ErrValidation
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coordinator.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// claimantHeader is the header workers set to assert which claim they
// believe they hold, used for PATCH fencing (spec.md §4.1 Failure semantics).
const claimantHeader = "X-LTA-Claimant"

// --- TransferRequests ---

func (h *handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	f := storage.RequestFilter{
		Status: types.RequestStatus(r.URL.Query().Get("status")),
		Source: r.URL.Query().Get("source"),
		Dest:   r.URL.Query().Get("dest"),
	}
	reqs, err := h.coord.ListRequests(f)
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	var req types.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.coord.CreateRequest(&req); err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handlers) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.coord.GetRequest(chi.URLParam(r, "uuid"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handlers) patchRequest(w http.ResponseWriter, r *http.Request) {
	var patch coordinator.RequestPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch body: "+err.Error())
		return
	}
	req, err := h.coord.PatchRequest(chi.URLParam(r, "uuid"), &patch, r.Header.Get(claimantHeader))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handlers) deleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteRequest(chi.URLParam(r, "uuid")); err != nil {
		writeCoordErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) popRequest(w http.ResponseWriter, r *http.Request) {
	f := storage.RequestFilter{
		Source: r.URL.Query().Get("source"),
		Dest:   r.URL.Query().Get("dest"),
		Status: types.RequestStatus(r.URL.Query().Get("status")),
	}
	claimant := r.Header.Get(claimantHeader)
	req, err := h.coord.PopRequest(f, claimant)
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	if req == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handlers) quarantineRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	req, err := h.coord.QuarantineRequest(chi.URLParam(r, "uuid"), body.Reason, r.Header.Get(claimantHeader))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handlers) unquarantineRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.coord.UnquarantineRequest(chi.URLParam(r, "uuid"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- Bundles ---

func (h *handlers) listBundles(w http.ResponseWriter, r *http.Request) {
	f := storage.BundleFilter{
		Status: types.BundleStatus(r.URL.Query().Get("status")),
		Source: r.URL.Query().Get("source"),
		Dest:   r.URL.Query().Get("dest"),
	}
	if v := r.URL.Query().Get("verified"); v != "" {
		b := v == "true"
		f.Verified = &b
	}
	bundles, err := h.coord.ListBundles(f)
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

func (h *handlers) bulkCreateBundles(w http.ResponseWriter, r *http.Request) {
	var bundles []*types.Bundle
	if err := decodeJSON(r, &bundles); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.coord.CreateBundles(bundles); err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bundles)
}

func (h *handlers) getBundle(w http.ResponseWriter, r *http.Request) {
	b, err := h.coord.GetBundle(chi.URLParam(r, "uuid"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) listBundlesByRequest(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.coord.ListBundlesByRequest(chi.URLParam(r, "uuid"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

func (h *handlers) patchBundle(w http.ResponseWriter, r *http.Request) {
	var patch coordinator.BundlePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch body: "+err.Error())
		return
	}
	b, err := h.coord.PatchBundle(chi.URLParam(r, "uuid"), &patch, r.Header.Get(claimantHeader))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) deleteBundle(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteBundle(chi.URLParam(r, "uuid")); err != nil {
		writeCoordErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) popBundle(w http.ResponseWriter, r *http.Request) {
	f := storage.BundleFilter{
		Source: r.URL.Query().Get("source"),
		Dest:   r.URL.Query().Get("dest"),
		Status: types.BundleStatus(r.URL.Query().Get("status")),
	}
	claimant := r.Header.Get(claimantHeader)
	b, err := h.coord.PopBundle(f, claimant)
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	if b == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) quarantineBundle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	b, err := h.coord.QuarantineBundle(chi.URLParam(r, "uuid"), body.Reason, r.Header.Get(claimantHeader))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) unquarantineBundle(w http.ResponseWriter, r *http.Request) {
	b, err := h.coord.UnquarantineBundle(chi.URLParam(r, "uuid"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- Metadata ---

func (h *handlers) listMetadata(w http.ResponseWriter, r *http.Request) {
	bundleUUID := r.URL.Query().Get("bundle_uuid")
	if bundleUUID == "" {
		writeError(w, http.StatusBadRequest, "bundle_uuid query parameter is required")
		return
	}
	records, err := h.coord.ListMetadataByBundle(bundleUUID)
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) bulkCreateMetadata(w http.ResponseWriter, r *http.Request) {
	var records []*types.Metadata
	if err := decodeJSON(r, &records); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.coord.CreateMetadata(records); err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, records)
}

func (h *handlers) bulkDeleteMetadata(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BundleUUID string `json:"bundle_uuid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.coord.DeleteMetadataByBundle(body.BundleUUID); err != nil {
		writeCoordErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Status / heartbeats ---

func (h *handlers) patchStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ComponentName string                 `json:"component_name"`
		Status        map[string]interface{} `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	hb := &types.Heartbeat{
		ComponentType: chi.URLParam(r, "component_type"),
		ComponentName: body.ComponentName,
		Status:        body.Status,
	}
	if err := h.coord.Heartbeat(hb); err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hb)
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.coord.BundleStatusCounts(r.URL.Query().Get("source"), r.URL.Query().Get("dest"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handlers) getStatusByComponentType(w http.ResponseWriter, r *http.Request) {
	heartbeats, err := h.coord.ListHeartbeats(chi.URLParam(r, "component_type"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeats)
}

func (h *handlers) getStatusCount(w http.ResponseWriter, r *http.Request) {
	heartbeats, err := h.coord.ListHeartbeats(chi.URLParam(r, "component_type"))
	if err != nil {
		writeCoordErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(heartbeats)})
}

// getStatusNersc reports heartbeat freshness for the tape-facing stages
// (nersc-mover, nersc-retriever, nersc-verifier), used by the NERSC batch
// scheduler controller (spec.md §1) to judge whether enough instances of
// each worker type are alive.
func (h *handlers) getStatusNersc(w http.ResponseWriter, r *http.Request) {
	staleAfter := 2 * time.Minute
	result := make(map[string]interface{})
	for _, ct := range []string{"nersc-mover", "nersc-retriever", "nersc-verifier"} {
		heartbeats, err := h.coord.ListHeartbeats(ct)
		if err != nil {
			writeCoordErr(w, err)
			return
		}
		alive := 0
		for _, hb := range heartbeats {
			if time.Since(hb.Timestamp) < staleAfter {
				alive++
			}
		}
		result[ct] = map[string]int{"total": len(heartbeats), "alive": alive}
	}
	writeJSON(w, http.StatusOK, result)
}
