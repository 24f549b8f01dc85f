package httpapi

import (
	"strings"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/models"
)

// Rendering helpers: database rows → API objects. External identifiers
// always carry their type prefix; the stored column is a bare UUID.

func renderResponse(resp *models.Response) map[string]any {
	out := map[string]any{
		"id":         resp.ExternalID(),
		"object":     "response",
		"status":     resp.Status,
		"model":      resp.Model,
		"created_at": resp.CreatedAt.UnixMilli(),
		"usage": map[string]any{
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
			"total_tokens":  resp.InputTokens + resp.OutputTokens,
		},
	}
	if resp.ConversationID != nil {
		out["conversation_id"] = models.PrefixConversation + resp.ConversationID.String()
	}
	if resp.PreviousResponseID != nil {
		out["previous_response_id"] = models.PrefixResponse + resp.PreviousResponseID.String()
	}
	if len(resp.ChildResponseIDs) > 0 {
		children := make([]string, 0, len(resp.ChildResponseIDs))
		for _, id := range resp.ChildResponseIDs {
			children = append(children, models.PrefixResponse+id)
		}
		out["child_response_ids"] = children
	}
	if resp.Metadata != nil {
		out["metadata"] = resp.Metadata
	}
	return out
}

func renderConversation(conv *models.Conversation) map[string]any {
	out := map[string]any{
		"id":         conv.ExternalID(),
		"object":     "conversation",
		"created_at": conv.CreatedAt.UnixMilli(),
		"pinned":     conv.PinnedAt != nil,
		"archived":   conv.ArchivedAt != nil,
	}
	if conv.Metadata != nil {
		out["metadata"] = conv.Metadata
	}
	if conv.ClonedFromID != nil {
		out["cloned_from_id"] = models.PrefixConversation + conv.ClonedFromID.String()
	}
	return out
}

func renderItem(item *models.ResponseItem) map[string]any {
	return map[string]any{
		"id":          models.PrefixMessage + item.ID.String(),
		"object":      "response.item",
		"response_id": models.PrefixResponse + item.ResponseID.String(),
		"kind":        item.Kind,
		"content":     item.Content,
		"created_at":  item.CreatedAt.UnixMilli(),
	}
}

func renderModel(m *models.Model) map[string]any {
	return map[string]any{
		"id":             m.ModelName,
		"object":         "model",
		"created":        m.CreatedAt.Unix(),
		"owned_by":       m.OwnedBy,
		"aliases":        []string(m.Aliases),
		"context_length": m.ContextLength,
		"verifiable":     m.Verifiable,
	}
}

func renderBalance(b *models.OrganizationBalance) map[string]any {
	out := map[string]any{
		"organization_id": b.OrganizationID.String(),
		"total_spent":     b.TotalSpent,
		"total_requests":  b.TotalRequests,
		"total_tokens":    b.TotalTokens,
	}
	if b.LastUsageAt != nil {
		out["last_usage_at"] = b.LastUsageAt.UnixMilli()
	}
	return out
}

// parsePrefixedID parses an external identifier with a known type prefix.
// The bare UUID is accepted too.
func parsePrefixedID(external, prefix string) (uuid.UUID, error) {
	raw := strings.TrimPrefix(external, prefix)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.New(apierr.KindValidation, "malformed identifier")
	}
	return id, nil
}
