package engine

import (
	"context"
	"errors"

	"chant/internal/intent"
)

// StartListening opens the utterance queue.
func (e *Engine) StartListening() {
	e.stateMu.Lock()
	e.listening = true
	e.stateMu.Unlock()
	e.UpdateListenerState(func(s *ListenerState) {
		if s.Status == ListenerIdle {
			s.Status = ListenerListening
		}
	})
}

// StopListening closes the queue and drops utterances not yet picked up.
// An utterance already being handled runs to its next pause or completion.
func (e *Engine) StopListening() {
	e.stateMu.Lock()
	e.listening = false
	e.stateMu.Unlock()

	dropped := 0
drain:
	for {
		select {
		case <-e.queue:
			dropped++
		default:
			break drain
		}
	}
	if dropped > 0 {
		e.log.Info("Dropped queued utterances.", "count", dropped)
	}
	e.UpdateListenerState(func(s *ListenerState) {
		if s.Status == ListenerListening || s.Status == ListenerSpeaking {
			s.Status = ListenerIdle
			s.Transcript = ""
		}
	})
}

func (e *Engine) Listening() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.listening
}

// SpeechStarted marks the start of an utterance while listening.
func (e *Engine) SpeechStarted() {
	if !e.Listening() {
		return
	}
	e.UpdateListenerState(func(s *ListenerState) {
		if s.Status == ListenerListening {
			s.Status = ListenerSpeaking
		}
	})
}

// Submit enqueues an utterance for Run. It reports false when the engine is
// not listening or an utterance is already waiting.
func (e *Engine) Submit(u intent.Utterance) bool {
	if !e.Listening() {
		return false
	}
	select {
	case e.queue <- u:
		return true
	default:
		e.log.Warn("Utterance dropped; previous one still pending.", "utterance_id", u.ID)
		return false
	}
}

// Run handles queued utterances one at a time until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-e.queue:
			err := e.HandleUtterance(ctx, u)
			switch {
			case err == nil:
			case errors.Is(err, ErrBusy):
				e.log.Info("Utterance rejected while busy.", "utterance_id", u.ID)
			default:
				e.log.Error("Utterance failed.", "utterance_id", u.ID, "error", err)
			}
		}
	}
}
