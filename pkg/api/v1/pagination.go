package v1

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// parsePagination reads the page and per_page query parameters.
func parsePagination(query url.Values) (page, perPage int, err error) {
	page, err = positiveIntParam(query, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	perPage, err = positiveIntParam(query, "per_page", defaultPerPage)
	if err != nil {
		return 0, 0, err
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage, nil
}

func positiveIntParam(query url.Values, name string, fallback int) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, apperrors.NewUserError(
			fmt.Sprintf("%s must be a positive integer", name), err)
	}
	return value, nil
}

func totalPages(total, perPage int) int {
	if total == 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// setLinkHeader writes RFC 8288 pagination links. Non-empty pages always
// link first and last; prev and next appear only when they exist.
func setLinkHeader(w http.ResponseWriter, r *http.Request, page, perPage, pages int) {
	if pages == 0 {
		return
	}

	link := func(target int, rel string) string {
		u := *r.URL
		query := u.Query()
		query.Set("page", strconv.Itoa(target))
		query.Set("per_page", strconv.Itoa(perPage))
		u.RawQuery = query.Encode()
		return fmt.Sprintf("<%s>; rel=%q", u.String(), rel)
	}

	links := []string{link(1, "first")}
	if page > 1 {
		links = append(links, link(page-1, "prev"))
	}
	if page < pages {
		links = append(links, link(page+1, "next"))
	}
	links = append(links, link(pages, "last"))

	w.Header().Set("Link", strings.Join(links, ", "))
}
