package engine

import "github.com/google/uuid"

// Subscribe registers a callback for session events and returns a token
// for Unsubscribe. Callbacks run synchronously on the publishing
// goroutine with no session lock held; slow consumers should hand off
// to their own channels.
func (s *Session) Subscribe(fn func(Event)) string {
	token := uuid.NewString()
	s.subMu.Lock()
	s.subs[token] = fn
	s.subMu.Unlock()
	return token
}

// Unsubscribe removes a subscription. Unknown tokens are ignored.
func (s *Session) Unsubscribe(token string) {
	s.subMu.Lock()
	delete(s.subs, token)
	s.subMu.Unlock()
}

func (s *Session) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(ev)
	}
}
