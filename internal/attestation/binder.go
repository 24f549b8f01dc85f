package attestation

import (
	"context"
	"errors"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/logging"
	"inference_gateway/internal/models"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/storage"
)

// Signing algorithms the binder collects from verifiable backends.
var boundAlgos = []string{models.SigningAlgoECDSA, models.SigningAlgoEd25519}

// Binder tags completed responses with backend-obtained signatures over
// their canonicalized output text, and verifies them later. No plaintext
// is ever logged here.
type Binder struct {
	pool       *providers.Pool
	signatures *storage.SignatureRepository
	enabled    bool
	logger     *logging.Logger
}

// NewBinder creates the attestation binder.
func NewBinder(pool *providers.Pool, signatures *storage.SignatureRepository, enabled bool) *Binder {
	return &Binder{
		pool:       pool,
		signatures: signatures,
		enabled:    enabled,
		logger:     logging.NewLogger("attestation"),
	}
}

// Enabled reports whether the binder is active.
func (b *Binder) Enabled() bool { return b.enabled }

// Bind fetches signatures for a completed chat from the backend that
// produced it and stores them keyed (chat_id, signing_algo). Asking an
// external backend is a classification error, not a crash: it is reported
// and nothing is stored.
func (b *Binder) Bind(ctx context.Context, backend providers.Backend, chatID string) error {
	if !b.enabled {
		return nil
	}

	var bound int
	for _, algo := range boundAlgos {
		sig, err := backend.Signature(ctx, chatID, algo)
		if err != nil {
			if errors.Is(err, providers.ErrNotVerifiable) {
				return apierr.New(apierr.KindValidation, "model output is not verifiable")
			}
			b.logger.Warn("signature fetch failed", "backend", backend.ID(), "chat", chatID, "algo", algo, "error", err)
			continue
		}
		if sig.ChatID == "" {
			sig.ChatID = chatID
		}
		if sig.SigningAlgo == "" {
			sig.SigningAlgo = algo
		}
		if err := b.signatures.Store(ctx, sig); err != nil {
			b.logger.Error("signature store failed", "chat", chatID, "algo", algo, "error", err)
			continue
		}
		bound++
	}

	b.logger.Debug("signatures bound", "chat", chatID, "count", bound)
	return nil
}

// Signatures returns the stored signatures for a chat id.
func (b *Binder) Signatures(ctx context.Context, chatID string) ([]models.ChatSignature, error) {
	sigs, err := b.signatures.ListByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrSignatureNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "no signatures stored for chat")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "signature lookup failed", err)
	}
	return sigs, nil
}

// Verify validates a signature for a chat under the advertised algorithm.
// The canonical text is reproduced from the stored row; a caller-supplied
// signature overrides the stored one so externally held signatures can be
// checked too.
func (b *Binder) Verify(ctx context.Context, chatID, signingAlgo, suppliedSignature string) (bool, error) {
	if signingAlgo == "" {
		signingAlgo = models.SigningAlgoECDSA
	}

	stored, err := b.signatures.Get(ctx, chatID, signingAlgo)
	if err != nil {
		if errors.Is(err, storage.ErrSignatureNotFound) {
			return false, apierr.New(apierr.KindNotFound, "no signature stored for chat")
		}
		return false, apierr.Wrap(apierr.KindInternal, "signature lookup failed", err)
	}

	signature := stored.Signature
	if suppliedSignature != "" {
		signature = suppliedSignature
	}

	ok, err := VerifySignature(signingAlgo, stored.SigningAddress, CanonicalText(stored.Text), signature)
	if err != nil {
		return false, apierr.New(apierr.KindValidation, "malformed signature or signing address")
	}
	return ok, nil
}

// Report fetches the TEE attestation blob, falling back across the
// internal backends of the current topology until one answers.
func (b *Binder) Report(ctx context.Context, signingAlgo string) ([]byte, error) {
	if !b.enabled {
		return nil, apierr.New(apierr.KindNotFound, "attestation is disabled")
	}

	backends := b.pool.InternalBackends()
	if len(backends) == 0 {
		return nil, apierr.New(apierr.KindUpstreamUnavailable, "no attestation-capable backend available")
	}

	var lastErr error
	for _, backend := range backends {
		report, err := backend.AttestationReport(ctx, signingAlgo)
		if err != nil {
			lastErr = err
			b.logger.Warn("attestation report fetch failed", "backend", backend.ID(), "error", err)
			continue
		}
		return report, nil
	}
	return nil, apierr.Wrap(apierr.KindUpstreamUnavailable, "attestation report unavailable", lastErr)
}
