// Package speech turns announcement text into audible speech.
//
// Engines speak one utterance at a time and block until it has finished
// playing. Cancelling the context stops playback immediately; the caller
// uses this to preempt a running utterance.
//
// Example usage:
//
//	engine, err := speech.NewCommand(speech.WithRate(170))
//	if errors.Is(err, speech.ErrUnavailable) {
//	    // fall back to the text channel only
//	}
//	defer engine.Close()
//
//	err = engine.Speak(ctx, "Obstacle ahead. Stop.")
package speech

import "context"

// Engine speaks text.
type Engine interface {
	// Speak plays text and returns once playback has finished. It returns
	// ctx.Err() when cancelled mid-utterance.
	Speak(ctx context.Context, text string) error

	// Health reports whether the engine can currently speak.
	Health(ctx context.Context) error

	// Close releases any resources held by the engine.
	Close() error
}
