package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teslashibe/voicechat/pkg/engine"
)

// VerifyArtifact checks that a synthesized file exists and is not empty.
// Engines that exit cleanly without writing audio are failures.
func VerifyArtifact(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return engine.New(engine.KindArtifactMissing, engine.StageTTS,
			fmt.Sprintf("generated audio file not found at %s", path))
	}
	if err != nil {
		return engine.Wrap(engine.KindArtifactMissing, engine.StageTTS, "stat generated audio", err)
	}
	if info.IsDir() {
		return engine.New(engine.KindArtifactMissing, engine.StageTTS,
			fmt.Sprintf("generated audio path %s is a directory", path))
	}
	if info.Size() == 0 {
		return engine.New(engine.KindArtifactMissing, engine.StageTTS, "generated audio file is empty")
	}
	return nil
}

// Cleanup removes synthesized files in dir older than maxAge and returns
// how many were deleted.
func Cleanup(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "tts_") || !strings.HasSuffix(name, ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}
