package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxBodyBytes bounds request bodies read by ReadJSON.
	MaxBodyBytes = 1 << 20
)

// ErrInvalidJSON is returned by ReadJSON for an unreadable or malformed body.
var ErrInvalidJSON = errors.New("invalid json")

// Pagination is the list metadata returned with every page.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// Page is the parsed page/limit of a list request.
type Page struct {
	Page  int
	Limit int
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

// Meta builds the response pagination for total rows.
func (p Page) Meta(total int64) Pagination {
	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.Limit)))
	}
	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}

// ParsePage reads page and limit from the query string. Bad or missing
// values fall back to page 1 and DefaultLimit; limit is capped at MaxLimit.
func ParsePage(r *http.Request) Page {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Page{Page: page, Limit: limit}
}

// ParseID parses a positive integer id.
func ParseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 || id > math.MaxUint32 {
		return 0, false
	}
	return uint(id), true
}

// PathID parses the {name} path value of r.
func PathID(r *http.Request, name string) (uint, bool) {
	return ParseID(r.PathValue(name))
}

// ReadBody reads at most MaxBodyBytes and checks the body is JSON.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, ErrInvalidJSON
	}
	if len(strings.TrimSpace(string(body))) == 0 || !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	return body, nil
}

// Decode unmarshals a body already checked by ReadBody.
func Decode(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return ErrInvalidJSON
	}
	return nil
}
