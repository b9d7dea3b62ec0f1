package i18n

import "net/http"

const langCookieName = "lang"

// Middleware negotiates the UI language for every request: the ?lang= query
// parameter wins, then the lang cookie, then Accept-Language. An explicit
// ?lang= choice is remembered in the cookie.
func Middleware(cookiePath string, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var cookieLang string
			if c, err := r.Cookie(langCookieName); err == nil {
				cookieLang = c.Value
			}
			queryLang := r.URL.Query().Get("lang")

			lang := Match(queryLang, cookieLang, r.Header.Get("Accept-Language"))
			if queryLang != "" && lang != cookieLang {
				http.SetCookie(w, &http.Cookie{
					Name:     langCookieName,
					Value:    lang,
					Path:     cookiePath,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(WithLang(r.Context(), lang)))
		})
	}
}
