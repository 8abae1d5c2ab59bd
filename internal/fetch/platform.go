package fetch

import (
	"net/url"
	"strings"
)

// Platform represents a known publishing platform.
type Platform string

const (
	// PlatformWikipedia covers *.wikipedia.org articles
	PlatformWikipedia Platform = "wikipedia"
	// PlatformMedium covers medium.com and its custom domains on *.medium.com
	PlatformMedium Platform = "medium"
	// PlatformSubstack covers *.substack.com newsletters
	PlatformSubstack Platform = "substack"
	// PlatformUnknown is an unrecognized platform
	PlatformUnknown Platform = "unknown"
)

// DetectPlatform identifies the publishing platform from a URL.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformUnknown
	}

	host := strings.ToLower(parsed.Hostname())

	switch {
	case host == "wikipedia.org" || strings.HasSuffix(host, ".wikipedia.org"):
		return PlatformWikipedia
	case host == "medium.com" || strings.HasSuffix(host, ".medium.com"):
		return PlatformMedium
	case strings.HasSuffix(host, ".substack.com"):
		return PlatformSubstack
	}
	return PlatformUnknown
}

// PlatformContentSelectors returns content selectors optimized for a specific platform.
func PlatformContentSelectors(platform Platform) []string {
	switch platform {
	case PlatformWikipedia:
		return []string{"#mw-content-text .mw-parser-output", "#mw-content-text", "#content"}
	case PlatformMedium:
		return []string{"article section", "article"}
	case PlatformSubstack:
		return []string{".available-content .body", ".post-content", "article"}
	default:
		return DefaultTextSelectors()
	}
}

// PlatformNoiseSelectors returns noise exclusion selectors for a specific platform.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		".social-share",
		".share-buttons",
		".newsletter-signup",
		".cookie-consent",
		".gdpr-notice",
		"figure figcaption",
	}

	switch platform {
	case PlatformWikipedia:
		return append(common,
			".reference",
			".reflist",
			".navbox",
			".infobox",
			".mw-editsection",
			"#toc",
		)
	case PlatformMedium:
		return append(common,
			"[data-testid='headerClapButton']",
			".pw-responses",
		)
	case PlatformSubstack:
		return append(common,
			".subscription-widget-wrap",
			".post-footer",
			".comments-section",
		)
	default:
		return common
	}
}
