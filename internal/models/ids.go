package models

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes used for externally visible resource identifiers.
// The stored column is always a bare UUID; the prefix is applied at the
// API boundary.
const (
	PrefixResponse     = "resp_"
	PrefixConversation = "conv_"
	PrefixMessage      = "msg_"
	PrefixChatCmpl     = "chatcmpl-"
	PrefixSecretKey    = "sk-"
)

// NewPrefixedID generates a new identifier with the given prefix, e.g.
// "resp_0b51…". The UUID is rendered without dashes to keep ids compact.
func NewPrefixedID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// StripPrefix removes a known type prefix from an external identifier.
// Unknown prefixes are left untouched.
func StripPrefix(id string) string {
	for _, p := range []string{PrefixResponse, PrefixConversation, PrefixMessage, PrefixChatCmpl, PrefixSecretKey} {
		if strings.HasPrefix(id, p) {
			return strings.TrimPrefix(id, p)
		}
	}
	return id
}
