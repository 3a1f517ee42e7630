package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/FocuswithJustin/tilawa/core/verse"
)

// Defaults used by the public recitation CDN.
const (
	DefaultAudioBaseURL = "https://cdn.islamic.network/quran/audio/"
	DefaultReciter      = "ar.alafasy"
	DefaultBitrate      = "128"
)

// CDN resolves remote clip URLs of the form {base}{bitrate}/{reciter}/{global}.mp3.
// It has no local cache; CachedAudioLocation always reports a miss.
type CDN struct {
	BaseURL string
}

// AudioURL formats the remote URL of one clip.
func AudioURL(baseURL, bitrate, reciter string, g verse.GlobalIndex) string {
	if baseURL == "" {
		baseURL = DefaultAudioBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return fmt.Sprintf("%s%s/%s/%d.mp3", baseURL, bitrate, reciter, g)
}

// ResolveAudioLocation implements AudioSource.
func (c CDN) ResolveAudioLocation(_ context.Context, reciter string, g verse.GlobalIndex, bitrate string) (string, error) {
	if _, err := verse.ToAddress(g); err != nil {
		return "", err
	}
	if reciter == "" {
		reciter = DefaultReciter
	}
	if bitrate == "" {
		bitrate = DefaultBitrate
	}
	return AudioURL(c.BaseURL, bitrate, reciter, g), nil
}

// CachedAudioLocation implements AudioSource.
func (CDN) CachedAudioLocation(context.Context, string, string, verse.Address) (string, bool) {
	return "", false
}
