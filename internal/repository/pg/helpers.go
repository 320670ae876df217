package pg

import (
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

// sortableColumns guards ORDER BY against injection; anything not
// listed falls back to created_at.
var sortableColumns = []string{
	"created_at", "updated_at", "next_billing_date", "due_date",
	"issue_date", "event_date", "start_date", "name", "total_amount",
}

func sanitizeSort(sort string) string {
	if lo.Contains(sortableColumns, sort) {
		return sort
	}
	return "created_at"
}

func sanitizeOrder(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
