package httpapi

import (
	"net/http"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/utils"
)

// handleAttestationReport serves GET /v1/attestation/report: the TEE
// attestation blob from the first internal backend that answers.
func (d *Dependencies) handleAttestationReport(w http.ResponseWriter, r *http.Request) {
	report, err := d.Binder.Report(r.Context(), r.URL.Query().Get("signing_algo"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}

// handleGetSignatures serves GET /v1/signature/{chat_id}: all stored
// signatures for a chat, one per signing algorithm.
func (d *Dependencies) handleGetSignatures(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	if chatID == "" {
		utils.WriteError(w, apierr.New(apierr.KindValidation, "chat id is required"))
		return
	}

	sigs, err := d.Binder.Signatures(r.Context(), chatID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	data := make([]map[string]any, 0, len(sigs))
	for _, sig := range sigs {
		data = append(data, map[string]any{
			"chat_id":         sig.ChatID,
			"text":            sig.Text,
			"signature":       sig.Signature,
			"signing_address": sig.SigningAddress,
			"signing_algo":    sig.SigningAlgo,
		})
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// handleVerifySignature serves POST /v1/verify/{chat_id}: reproduces the
// canonical text and validates the signature under the advertised
// algorithm.
func (d *Dependencies) handleVerifySignature(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	if chatID == "" {
		utils.WriteError(w, apierr.New(apierr.KindValidation, "chat id is required"))
		return
	}

	var body struct {
		SigningAlgo string `json:"signing_algo"`
		Signature   string `json:"signature"`
	}
	if err := utils.DecodeJSONBody(w, r, &body, 1024*1024); err != nil {
		utils.WriteError(w, err)
		return
	}

	valid, err := d.Binder.Verify(r.Context(), chatID, body.SigningAlgo, body.Signature)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"chat_id":      chatID,
		"signing_algo": body.SigningAlgo,
		"valid":        valid,
	})
}
