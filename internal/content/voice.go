package content

import (
	"context"
	"fmt"
	"os"

	"github.com/airwaveops/radiod/internal/provider"
)

// synthesizeVoice calls the TTS provider chain with the script and the
// configured director prefix (spec §4.4 step 5).
func (g *Generator) synthesizeVoice(ctx context.Context, script string) ([]byte, error) {
	audio, err := g.voices.Execute(ctx, provider.VoiceRequest{
		Script:         script,
		DirectorPrefix: g.directorPrefix(),
	}, g.voiceCfg)
	if err != nil {
		return nil, fmt.Errorf("content: voice synthesis: %w", err)
	}
	return audio, nil
}

func (g *Generator) directorPrefix() string {
	return fmt.Sprintf("[persona:%s][scene:%s][style:%s]",
		g.cfg.VoicePersona, g.cfg.VoiceScene, g.cfg.DeliveryStyle)
}

// writeTempAudio writes raw audio bytes to a fresh temp file and
// returns its path; the caller owns cleanup.
func writeTempAudio(data []byte) (string, error) {
	f, err := os.CreateTemp("", "radiod-voice-*.raw")
	if err != nil {
		return "", fmt.Errorf("content: create temp voice file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("content: write temp voice file: %w", err)
	}
	return f.Name(), nil
}
