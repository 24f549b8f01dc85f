package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"inference_gateway/internal/apierr"
)

func payloadWithImage(url string) map[string]any {
	return map[string]any{
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "what is this?"},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}},
				},
			},
		},
	}
}

func TestValidatePayloadAcceptsAllowedImages(t *testing.T) {
	assert.NoError(t, ValidatePayload(payloadWithImage("data:image/png;base64,iVBORw0KGgo=")))
	assert.NoError(t, ValidatePayload(payloadWithImage("data:image/jpeg;base64,/9j/4AAQ")))
	// Remote URLs pass through untouched.
	assert.NoError(t, ValidatePayload(payloadWithImage("https://example.com/cat.png")))
}

func TestValidatePayloadRejectsUnsupportedMIME(t *testing.T) {
	err := ValidatePayload(payloadWithImage("data:image/gif;base64,R0lGODlh"))
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestValidatePayloadRejectsMalformedDataURL(t *testing.T) {
	err := ValidatePayload(payloadWithImage("data:garbage"))
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestValidatePayloadPlainTextMessages(t *testing.T) {
	payload := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "just text"},
		},
	}
	assert.NoError(t, ValidatePayload(payload))
}
