// Package stt wraps the external speech-to-text engine.
//
// The engine is whisper.cpp's command-line tool. Each call writes the audio
// to a private temporary directory, runs the tool with a fixed argument
// contract, and reads back the text file it produces. The directory is
// removed on every exit path.
//
// Example usage:
//
//	w, _ := stt.NewWhisper(
//	    stt.WithDir("/opt/whisper.cpp"),
//	    stt.WithLanguage("id"),
//	)
//	text, err := w.Transcribe(ctx, audio, ".wav")
package stt

import (
	"context"
	"errors"
)

// ErrorMarker is the prefix whisper wrappers print instead of a transcript
// when they fail. Output starting with it is never treated as speech.
const ErrorMarker = "[ERROR]"

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Transcriber converts recorded speech to text.
type Transcriber interface {
	// Transcribe returns the text spoken in audio. ext is the file
	// extension hint for the container format (".wav", ".webm", ...).
	Transcribe(ctx context.Context, audio []byte, ext string) (string, error)

	// Available reports whether the engine's toolchain is installed.
	Available() bool
}
