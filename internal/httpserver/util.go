package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/storage"
)

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// requestClaims returns the verified claims a Require middleware stored
// on the request. A miss means the route is wired outside its token
// group; answer exactly like a missing token.
func requestClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidToken, "missing bearer token")
	}
	return claims, ok
}

// pageFromQuery reads the page and page_size query parameters. Absent or
// malformed values fall back to the defaults; the storage layer clamps
// the final range.
func pageFromQuery(r *http.Request) storage.Page {
	page := storage.Page{}
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page.Number = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		page.Size = n
	}
	return page.Normalize()
}

// pagedResponse is the envelope every list endpoint answers with.
func pagedResponse(items any, total int, page storage.Page) map[string]any {
	return map[string]any{
		"items":     items,
		"total":     total,
		"page":      page.Number,
		"page_size": page.Size,
	}
}
