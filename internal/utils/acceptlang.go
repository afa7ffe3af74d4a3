package utils

import (
	"strings"

	"golang.org/x/text/language"
)

// DetermineLocale picks a locale from the explicit query value, then the
// Accept-Language header (highest q first), then def. Region subtags are
// ignored: "ja-JP" matches "ja".
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	sup := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		sup[strings.ToLower(s)] = struct{}{}
	}
	pick := func(tag language.Tag) (string, bool) {
		base, conf := tag.Base()
		if conf == language.No {
			return "", false
		}
		b := base.String()
		if _, ok := sup[b]; ok {
			return b, true
		}
		return "", false
	}

	if q := strings.TrimSpace(queryLang); q != "" {
		if tag, err := language.Parse(q); err == nil {
			if v, ok := pick(tag); ok {
				return v
			}
		}
	}
	if tags, weights, err := language.ParseAcceptLanguage(acceptLang); err == nil {
		for i, tag := range tags {
			if i < len(weights) && weights[i] <= 0 {
				continue
			}
			if v, ok := pick(tag); ok {
				return v
			}
		}
	}
	if _, ok := sup[strings.ToLower(def)]; ok {
		return strings.ToLower(def)
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "ja"
}
