package middleware

import (
	"context"
	"net/http"

	"github.com/paltrust/feedback/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

var SupportedLocales = []string{"ja", "en"}

const DefaultLocale = "ja"

// LocaleMiddleware stores the locale chosen from ?lang= or Accept-Language.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), SupportedLocales, DefaultLocale)
		w.Header().Set("Content-Language", locale)
		ctx := context.WithValue(r.Context(), localeKey, locale)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok && s != "" {
		return s
	}
	return DefaultLocale
}
