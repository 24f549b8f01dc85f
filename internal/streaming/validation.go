package streaming

import (
	"strings"

	"inference_gateway/internal/apierr"
)

// Image data URLs are restricted to the formats every upstream accepts.
var allowedImageMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// ValidatePayload rejects malformed input before any backend is dialed:
// image data URLs must be well formed and carry an allowed MIME type.
// Error messages never quote payload content.
func ValidatePayload(payload map[string]any) error {
	messages, _ := payload["messages"].([]any)
	for _, raw := range messages {
		message, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		parts, ok := message["content"].([]any)
		if !ok {
			continue
		}
		for _, rawPart := range parts {
			part, ok := rawPart.(map[string]any)
			if !ok {
				continue
			}
			if part["type"] != "image_url" {
				continue
			}
			if err := validateImageURL(part); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateImageURL(part map[string]any) error {
	imageURL, _ := part["image_url"].(map[string]any)
	url, _ := imageURL["url"].(string)
	if url == "" {
		return apierr.New(apierr.KindValidation, "image_url part is missing a url")
	}

	// Remote URLs pass through; only embedded data URLs are inspected.
	if !strings.HasPrefix(url, "data:") {
		return nil
	}

	rest := strings.TrimPrefix(url, "data:")
	semi := strings.Index(rest, ";")
	comma := strings.Index(rest, ",")
	if semi < 0 || comma < 0 || semi > comma {
		return apierr.New(apierr.KindValidation, "malformed image data URL")
	}

	mime := rest[:semi]
	if !allowedImageMIMEs[mime] {
		return apierr.New(apierr.KindValidation, "unsupported image type; only image/png and image/jpeg are accepted")
	}
	return nil
}
