package search

import "strings"

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// FilterImageURLs drops favicons, logos and icons and keeps URLs that look
// like images, up to max.
func FilterImageURLs(urls []string, max int) []string {
	out := []string{}
	for _, u := range urls {
		if len(out) >= max {
			break
		}
		lower := strings.ToLower(u)
		if strings.Contains(lower, "favicon") || strings.Contains(lower, "/logo") || strings.Contains(lower, "/icon") {
			continue
		}
		if !looksLikeImage(lower) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func looksLikeImage(lower string) bool {
	if strings.Contains(lower, "image") {
		return true
	}
	for _, ext := range imageExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}
