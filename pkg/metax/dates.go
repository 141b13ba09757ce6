package metax

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

var (
	yearOnly  = regexp.MustCompile(`^\d{4}$`)
	yearMonth = regexp.MustCompile(`^\d{4}-\d{2}$`)
	fullDate  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// toValidDate normalises a DataCite date token to YYYY-MM-DD: a bare year
// becomes January 1st, a year-month the 1st of that month, and an ISO-8601
// datetime is cut to its date component.
func toValidDate(token string) (string, error) {
	token = strings.TrimSpace(token)

	switch {
	case fullDate.MatchString(token):
		return token, nil
	case yearOnly.MatchString(token):
		return token + "-01-01", nil
	case yearMonth.MatchString(token):
		return token + "-01", nil
	}

	if strings.Contains(token, "T") {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, token); err == nil {
				return parsed.Format("2006-01-02"), nil
			}
		}
	}

	return "", apperrors.NewUserError(fmt.Sprintf("invalid date %q", token), nil)
}
