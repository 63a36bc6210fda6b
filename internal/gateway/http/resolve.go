package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/b24gate/internal/gateway/metrics"
	"github.com/aussiebroadwan/b24gate/internal/gateway/service"
	"github.com/aussiebroadwan/b24gate/pkg/httpx"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
	"github.com/tidwall/gjson"
)

// maxPayloadBytes bounds a placement payload. The platform's frames post
// well under this.
const maxPayloadBytes = 64 << 10

// Resolver authenticates a request. *service.AuthResolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, in service.ResolveInput) (service.Principal, error)
}

type principalKey struct{}

// PrincipalFromContext returns the caller stored by ResolveMiddleware.
func PrincipalFromContext(ctx context.Context) (service.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(service.Principal)
	return p, ok
}

// ResolveMiddleware authenticates every request through resolver before
// calling next. Requests that fail never reach next.
func ResolveMiddleware(resolver Resolver, m *metrics.Collector) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var in service.ResolveInput
			in.Bearer, in.HasBearer = httpx.BearerToken(r)

			mode := service.ModeBearer
			if !in.HasBearer {
				mode = service.ModeInstall

				fields, err := placementFields(r)
				if err != nil {
					m.RecordAuth(string(mode), "rejected")
					writeError(w, r, &service.Error{
						Kind:    service.ErrInvalidPayload,
						Message: "unreadable request body",
						Err:     err,
					})
					return
				}
				in.Fields = fields
			}

			p, err := resolver.Resolve(ctx, in)
			if err != nil {
				m.RecordAuth(string(mode), authResult(err))
				writeError(w, r, err)
				return
			}
			m.RecordAuth(string(mode), "ok")

			ctx = context.WithValue(ctx, principalKey{}, p)
			ctx = httpx.WithAccountID(ctx, p.Account.ID)
			ctx = slogx.With(ctx, "account_id", p.Account.ID, "auth_mode", p.Mode)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authResult(err error) string {
	if service.IsAuthentication(err) || service.IsValidation(err) {
		return "rejected"
	}
	return "error"
}

// placementFields flattens a placement payload from the request. A JSON
// object body is read first, then the query string, then a form body, each
// overriding the one before. The body is left readable for next.
func placementFields(r *http.Request) (map[string]string, error) {
	fields := map[string]string{}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
		if err != nil {
			return nil, err
		}
		if len(body) > maxPayloadBytes {
			return nil, fmt.Errorf("body exceeds %d bytes", maxPayloadBytes)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if doc := gjson.ParseBytes(body); len(body) > 0 && gjson.ValidBytes(body) && doc.IsObject() {
		doc.ForEach(func(k, v gjson.Result) bool {
			switch {
			case v.Type == gjson.Null:
			case v.IsObject() || v.IsArray():
				fields[k.String()] = v.Raw
			default:
				fields[k.String()] = v.String()
			}
			return true
		})
	}

	mergeFirst(fields, r.URL.Query())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		mergeFirst(fields, form)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxPayloadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		if r.MultipartForm != nil {
			mergeFirst(fields, r.MultipartForm.Value)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return fields, nil
}

func mergeFirst(dst map[string]string, src map[string][]string) {
	for k, vs := range src {
		if len(vs) > 0 {
			dst[k] = vs[0]
		}
	}
}
