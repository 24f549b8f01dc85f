package httpapi

import (
	"net/http"

	"inference_gateway/internal/utils"
)

// handleListModels serves GET /v1/models: the active, non-deleted catalog.
func (d *Dependencies) handleListModels(w http.ResponseWriter, r *http.Request) {
	catalog, err := d.Catalog.ListPublic(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	data := make([]map[string]any, 0, len(catalog))
	for i := range catalog {
		data = append(data, renderModel(&catalog[i]))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}
