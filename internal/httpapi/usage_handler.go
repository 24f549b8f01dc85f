package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/utils"
)

// Management-plane usage endpoints. Session auth; the organization id is
// taken from the path because console users may belong to several tenants.

// handleOrganizationUsage serves GET /v1/organizations/{id}/usage.
func (d *Dependencies) handleOrganizationUsage(w http.ResponseWriter, r *http.Request) {
	orgID, err := organizationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, lerr := d.Usage.ListByOrganization(r.Context(), orgID, limit)
	if lerr != nil {
		utils.WriteError(w, apierr.Wrap(apierr.KindInternal, "usage listing failed", lerr))
		return
	}

	data := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		row := map[string]any{
			"id":             entry.ID.String(),
			"model":          entry.ModelName,
			"inference_kind": entry.InferenceKind,
			"input_tokens":   entry.InputTokens,
			"output_tokens":  entry.OutputTokens,
			"total_tokens":   entry.TotalTokens,
			"total_cost":     entry.TotalCost,
			"stop_reason":    entry.StopReason,
			"created_at":     entry.CreatedAt.UnixMilli(),
		}
		if entry.ResponseID != nil {
			row["response_id"] = entry.ResponseID.String()
		}
		data = append(data, row)
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// handleOrganizationBalance serves GET /v1/organizations/{id}/balance.
func (d *Dependencies) handleOrganizationBalance(w http.ResponseWriter, r *http.Request) {
	orgID, err := organizationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	balance, berr := d.Ledger.Balance(r.Context(), orgID)
	if berr != nil {
		utils.WriteError(w, berr)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderBalance(balance))
}

// handleRebuildBalance serves POST /v1/organizations/{id}/balance/rebuild:
// recomputes the cached aggregate from the usage log. Admin only.
func (d *Dependencies) handleRebuildBalance(w http.ResponseWriter, r *http.Request) {
	orgID, err := organizationPathID(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	balance, berr := d.Ledger.RebuildBalance(r.Context(), orgID)
	if berr != nil {
		utils.WriteError(w, berr)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, renderBalance(balance))
}

func organizationPathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apierr.New(apierr.KindValidation, "malformed organization id")
	}
	return id, nil
}
