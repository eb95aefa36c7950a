package browser

import (
	"math/rand/v2"
	"strings"
)

// Profile is a coherent set of identity values applied to one session.
// The user agent, platform and client hints must agree or fingerprinting
// scripts flag the mismatch.
type Profile struct {
	UserAgent      string
	Platform       string
	AcceptLanguage string
	Viewport       Viewport
}

// Viewport is the emulated window size.
type Viewport struct {
	Width  int
	Height int
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
}

var viewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
	{Width: 1280, Height: 800},
}

// RandomProfile picks a user agent and viewport for a new session.
func RandomProfile(rnd *rand.Rand) Profile {
	ua := userAgents[rnd.IntN(len(userAgents))]
	return Profile{
		UserAgent:      ua,
		Platform:       platformFor(ua),
		AcceptLanguage: "en-US,en;q=0.9",
		Viewport:       viewports[rnd.IntN(len(viewports))],
	}
}

// platformFor returns the navigator.platform value matching ua.
func platformFor(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Win32"
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	default:
		return "Linux x86_64"
	}
}
