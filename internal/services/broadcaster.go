package services

import "minigames-backend/internal/models"

// Emitter delivers server frames to the connection that owns a session.
// Timers and paced sequences use it to push frames outside a request.
type Emitter interface {
	Emit(msg models.Message)
}

type EmitterFunc func(models.Message)

func (f EmitterFunc) Emit(msg models.Message) { f(msg) }

// Discard drops every frame.
var Discard Emitter = EmitterFunc(func(models.Message) {})

func emitterOrDiscard(out Emitter) Emitter {
	if out == nil {
		return Discard
	}
	return out
}
