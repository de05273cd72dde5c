package middleware

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// ResponseTransformer rewrites a decoded JSON response body in place. It receives the
// request for context and returns the value to encode.
type ResponseTransformer func(r *http.Request, body any) any

// bufferedWriter holds the response until the transformers have run.
type bufferedWriter struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.buf.Write(p)
}

// TransformResponses runs each JSON response body through transformers in order. Non-JSON
// bodies and bodies that fail to decode pass through unchanged.
func TransformResponses(transformers ...ResponseTransformer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(transformers) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bw := &bufferedWriter{header: w.Header()}
			next.ServeHTTP(bw, r)
			if bw.status == 0 {
				bw.status = http.StatusOK
			}

			out := bw.buf.Bytes()
			if isJSON(bw.header.Get("Content-Type")) && len(out) > 0 {
				var body any
				if err := json.Unmarshal(out, &body); err == nil {
					for _, t := range transformers {
						body = t(r, body)
					}
					if enc, err := json.Marshal(body); err == nil {
						out = append(enc, '\n')
					}
				}
			}
			bw.header.Set("Content-Length", strconv.Itoa(len(out)))
			w.WriteHeader(bw.status)
			_, _ = w.Write(out)
		})
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

// StripFields removes the named keys, case-insensitively, at any depth of the body.
func StripFields(fields ...string) ResponseTransformer {
	drop := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		drop[strings.ToLower(f)] = struct{}{}
	}
	var strip func(v any) any
	strip = func(v any) any {
		switch t := v.(type) {
		case map[string]any:
			for k, val := range t {
				if _, ok := drop[strings.ToLower(k)]; ok {
					delete(t, k)
					continue
				}
				t[k] = strip(val)
			}
			return t
		case []any:
			for i := range t {
				t[i] = strip(t[i])
			}
			return t
		default:
			return v
		}
	}
	return func(_ *http.Request, body any) any { return strip(body) }
}

// SensitiveFields are never returned to clients.
var SensitiveFields = []string{"password", "passwordHash", "password_hash", "secret", "tokenHash", "token_hash", "mfaSecret"}
