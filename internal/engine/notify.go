package engine

import (
	"context"
	"log"
	"time"
	"unicode/utf8"

	"github.com/cartly/chat-engine/internal/metrics"
)

// previewChars is the maximum character length of the body preview included
// in a push notification payload.
const previewChars = 120

// dispatchTimeout bounds a single fallback dispatch pass, membership lookup
// and sink calls included.
const dispatchTimeout = 5 * time.Second

// fallbackDispatcher forwards message notifications to the external push
// sink for room members without a live connection. Dispatch is fire and
// forget: failures are logged, never retried here, and never block the
// broadcast that triggered them.
type fallbackDispatcher struct {
	members MembershipStore
	sink    PushSink
	online  func(identity string) bool
}

// dispatchIfOffline checks presence for every member of the envelope's room
// except the author and notifies the push sink for each offline one. The
// presence check is best effort: a recipient disconnecting exactly as the
// message is published may miss both the live event and the push.
func (d *fallbackDispatcher) dispatchIfOffline(env *Envelope) {
	if d.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	members, err := d.members.Members(ctx, env.Room)
	if err != nil {
		log.Printf("notify: member lookup failed room=%s: %v", env.Room, err)
		return
	}

	payload := PushPayload{
		Title:   "New message in " + env.Room.String(),
		Preview: preview(env.Body),
		RoomKey: env.Room.String(),
	}

	for _, m := range members {
		if m.Identity == env.Author || d.online(m.Identity) {
			continue
		}
		if err := d.sink.Notify(ctx, m.Identity, payload); err != nil {
			log.Printf("notify: push failed identity=%s room=%s: %v", m.Identity, env.Room, err)
			continue
		}
		metrics.PushFallbacks.Inc()
	}
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewChars {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewChars])
}
