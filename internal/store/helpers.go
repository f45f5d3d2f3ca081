package store

import (
	"strconv"
	"strings"
)

// placeholders returns "$1, $2, ..., $n" for PostgreSQL IN clauses.
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}
