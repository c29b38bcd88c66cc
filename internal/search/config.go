package search

import (
	"time"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
	"github.com/JakeFAU/findadoc-tester/internal/extract"
)

// Config tunes one search run. Zero durations disable the corresponding pause
// except where noted; use DefaultConfig for production pacing.
type Config struct {
	// TargetURL is the find-a-doctor page the form lives on.
	TargetURL string
	Launch    browser.LaunchOptions
	// LaunchTimeout bounds browser startup (0 means no extra bound).
	LaunchTimeout time.Duration

	NavAttempts int
	NavTimeout  time.Duration
	NavBackoff  time.Duration
	WaitUntil   browser.WaitUntil

	PostNavSettle time.Duration
	TypeDelay     time.Duration
	FieldSettle   time.Duration
	SubmitSettle  time.Duration
	PageSettle    time.Duration

	// MaxPages caps how many result pages are extracted.
	MaxPages int
	Extract  extract.Selectors
	// ScreenshotPrefix is prepended to debug screenshot paths.
	ScreenshotPrefix string
}

// DefaultConfig returns the pacing used against the live target: three
// navigation attempts of 30s, 100ms keystrokes, and two result pages.
func DefaultConfig(targetURL string) Config {
	return Config{
		TargetURL: targetURL,
		Launch: browser.LaunchOptions{
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			Flags:          append([]string(nil), browser.DefaultFlags...),
		},
		LaunchTimeout: 60 * time.Second,
		NavAttempts:   3,
		NavTimeout:    30 * time.Second,
		NavBackoff:    2 * time.Second,
		WaitUntil:     browser.WaitNetworkIdle,
		PostNavSettle: 3 * time.Second,
		TypeDelay:     100 * time.Millisecond,
		FieldSettle:   time.Second,
		SubmitSettle:  5 * time.Second,
		PageSettle:    3 * time.Second,
		MaxPages:      2,
		Extract:       extract.DefaultSelectors(),
	}
}

func (c Config) withDefaults() Config {
	if c.NavAttempts <= 0 {
		c.NavAttempts = 3
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.WaitUntil == "" {
		c.WaitUntil = browser.WaitLoad
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 2
	}
	return c
}

// TotalSteps is the number of progress steps a run with maxPages pages plans
// for: launch, navigate, two fields, submit, one extraction per page, one
// pagination between pages, analysis, and completion.
func TotalSteps(maxPages int) int {
	if maxPages <= 0 {
		maxPages = 1
	}
	return 5 + maxPages + (maxPages - 1) + 2
}
