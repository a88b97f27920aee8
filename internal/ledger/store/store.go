// Package store persists at-rest ledger records scoped by tenant. Stores see
// only sealed amounts and descriptions; they never hold the key.
//
// Every implementation returns records with Date inside [start, end]
// inclusive, ordered by Date descending, then CreatedAt descending, then ID
// descending. Deleting a missing record is not an error.
package store

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"familyledger/internal/ledger/models"
	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
)

func checkTenant(tenantID id.TenantID, rec models.StoredRecord) error {
	if rec == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "record is required")
	}
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant id is required")
	}
	if got := rec.Meta().TenantID; got != tenantID {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("record tenant %q does not match %q", got, tenantID))
	}
	return nil
}

func sortNewestFirst(recs []models.StoredRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Meta(), recs[j].Meta()
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		ua, ub := uuid.UUID(a.ID), uuid.UUID(b.ID)
		return bytes.Compare(ua[:], ub[:]) > 0
	})
}
