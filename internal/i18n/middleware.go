package i18n

import "net/http"

// Middleware localizes each request from its Accept-Language header, then
// lang, then the Init language.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := NewLocalizer(lang)
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				loc = acceptLocalizer(accept, lang)
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
