package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type MembershipStore struct {
	db DB
}

const selectMembershipRoleQuery = `SELECT role FROM company_memberships WHERE company_id = $1 AND subject = $2`

func NewMembershipStore(db DB) *MembershipStore {
	if db == nil {
		return nil
	}
	return &MembershipStore{db: db}
}

// Role returns the subject's role in the company; found is false for non-members.
func (s *MembershipStore) Role(ctx context.Context, companyID, subject string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("membership store not initialized")
	}
	companyID = strings.TrimSpace(companyID)
	subject = strings.TrimSpace(subject)
	if companyID == "" || subject == "" {
		return "", false, nil
	}
	var role string
	err := s.db.QueryRowContext(ctx, selectMembershipRoleQuery, companyID, subject).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get membership: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(role)), true, nil
}
