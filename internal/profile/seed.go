package profile

// DefaultProfiles returns the built-in catalog used when no profile file is
// configured. Weights skew toward the desktop Chrome identities, which blend
// into the widest share of real traffic.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:           "chrome-win-desktop",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			Viewport:       Viewport{Width: 1920, Height: 1080, PixelRatio: 1},
			DeviceClass:    DeviceDesktop,
			Locale:         "en-US",
			Timezone:       "America/New_York",
			AffinityWeight: 3,
		},
		{
			Name:           "chrome-mac-desktop",
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			Viewport:       Viewport{Width: 1680, Height: 1050, PixelRatio: 2},
			DeviceClass:    DeviceDesktop,
			Locale:         "en-US",
			Timezone:       "America/Los_Angeles",
			AffinityWeight: 3,
		},
		{
			Name:           "firefox-linux-desktop",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
			Viewport:       Viewport{Width: 1600, Height: 900, PixelRatio: 1},
			DeviceClass:    DeviceDesktop,
			Locale:         "en-GB",
			Timezone:       "Europe/London",
			AffinityWeight: 1.5,
		},
		{
			Name:           "safari-iphone",
			UserAgent:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			Viewport:       Viewport{Width: 393, Height: 852, PixelRatio: 3},
			DeviceClass:    DeviceMobile,
			Locale:         "en-US",
			Timezone:       "America/Chicago",
			AffinityWeight: 2,
		},
		{
			Name:           "chrome-android",
			UserAgent:      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36",
			Viewport:       Viewport{Width: 412, Height: 915, PixelRatio: 2.625},
			DeviceClass:    DeviceMobile,
			Locale:         "en-US",
			Timezone:       "America/Denver",
			AffinityWeight: 2,
		},
		{
			Name:           "safari-ipad",
			UserAgent:      "Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			Viewport:       Viewport{Width: 820, Height: 1180, PixelRatio: 2},
			DeviceClass:    DeviceTablet,
			Locale:         "en-US",
			Timezone:       "America/New_York",
			AffinityWeight: 1,
		},
	}
}
