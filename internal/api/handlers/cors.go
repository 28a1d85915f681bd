package handlers

import "net/http"

// CORS answers preflight requests and decorates every response with the
// allowed origin
type CORS struct {
	Origin  string
	Methods string
	Headers string
}

// ChatCORS is the policy of the public chat endpoint
func ChatCORS(origin string) CORS {
	return CORS{Origin: origin, Methods: "POST, OPTIONS", Headers: "Content-Type"}
}

// AdminCORS is the policy of the operator API
func AdminCORS(origin string) CORS {
	return CORS{Origin: origin, Methods: "GET, POST, OPTIONS", Headers: "Content-Type, Authorization"}
}

// Apply sets the CORS headers on w
func (c CORS) Apply(w http.ResponseWriter) {
	origin := c.Origin
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", c.Methods)
	w.Header().Set("Access-Control-Allow-Headers", c.Headers)
}

// Wrap sets the headers and short-circuits OPTIONS with an empty 200
func (c CORS) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.Apply(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}
