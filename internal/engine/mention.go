package engine

import (
	"context"
	"regexp"
	"strings"
)

// mentionPattern matches @name tokens in a message body. Names may contain
// letters, digits, underscores, dots, and dashes.
var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

// MentionResolver extracts @mentions from message bodies and resolves them
// against the current members of the room. Mentions of non-members are
// silently dropped, not errored.
type MentionResolver struct {
	members MembershipStore
}

// NewMentionResolver builds a resolver over the given membership store.
func NewMentionResolver(members MembershipStore) *MentionResolver {
	return &MentionResolver{members: members}
}

// Resolve returns the identity ids of room members mentioned in body.
// Matching is a case-insensitive exact match on display names; each identity
// appears at most once regardless of how often it is mentioned.
func (r *MentionResolver) Resolve(ctx context.Context, room RoomKey, body string) ([]string, error) {
	tokens := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(tokens) == 0 {
		return nil, nil
	}

	members, err := r.members.Members(ctx, room)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(members))
	for _, m := range members {
		if m.DisplayName != "" {
			byName[strings.ToLower(m.DisplayName)] = m.Identity
		}
	}

	var resolved []string
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		identity, ok := byName[strings.ToLower(tok[1])]
		if !ok {
			continue // non-member mention: dropped
		}
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		resolved = append(resolved, identity)
	}
	return resolved, nil
}
