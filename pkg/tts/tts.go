// Package tts wraps the external text-to-speech engines.
//
// Synthesis is delegated to command-line tools (Coqui's `tts`, or Piper as a
// local fallback). Every call writes to a uniquely named file in a shared
// scratch directory so concurrent turns never collide; the caller owns the
// returned file.
//
// Example usage:
//
//	coqui, _ := tts.NewCoqui(
//	    tts.WithDir("/opt/coqui_utils"),
//	    tts.WithSpeaker("wibowo"),
//	)
//	path, err := coqui.Synthesize(ctx, "Halo, apa kabar?")
//	if err == nil {
//	    err = tts.VerifyArtifact(path)
//	}
package tts

import "context"

// Synthesizer converts text to an audio file and returns its path.
type Synthesizer interface {
	// Synthesize renders text to a WAV file and returns the path.
	Synthesize(ctx context.Context, text string) (string, error)

	// Name identifies the engine in logs and errors.
	Name() string

	// Available reports whether the engine's toolchain is installed.
	Available() bool
}
