// Package transcript validates message-ordering constraints required by
// specific model providers before a request is sent.
package transcript

import (
	"fmt"

	"github.com/cartpry/pentestorch/runtime/agent/model"
)

// ValidateBedrock checks that messages satisfy Bedrock's ordering
// constraints. It always forbids two consecutive non-system messages from
// the same role, since Bedrock has no implicit turn separator. When
// thinkingEnabled is true, it additionally requires the conversation to end
// on a user turn (a pending assistant thinking block cannot be the last
// message sent).
func ValidateBedrock(messages []*model.Message, thinkingEnabled bool) error {
	if len(messages) == 0 {
		return fmt.Errorf("transcript: no messages to validate")
	}
	var lastRole model.ConversationRole
	for i, m := range messages {
		if m.Role == model.ConversationRoleSystem {
			continue
		}
		if lastRole != "" && m.Role == lastRole {
			return fmt.Errorf("transcript: consecutive %s messages at index %d", m.Role, i)
		}
		lastRole = m.Role
	}
	if thinkingEnabled && lastRole == model.ConversationRoleAssistant {
		return fmt.Errorf("transcript: conversation must end on a user turn when thinking is enabled")
	}
	return nil
}
