package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/infra/apperr"
)

const claimColumns = `id, external_id, user_id, payment_external_id, type, stage, status, created_at, updated_at`

func scanClaim(row rowScanner) (*dispute.Claim, error) {
	var c dispute.Claim
	if err := row.Scan(&c.ID, &c.ExternalID, &c.UserID, &c.PaymentExternalID, &c.Type, &c.Stage,
		&c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertClaim keeps the known owner when the incoming row has none.
func (s *Store) UpsertClaim(ctx context.Context, c *dispute.Claim) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), claims.user_id),
			payment_external_id = EXCLUDED.payment_external_id,
			type = EXCLUDED.type,
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, created_at`,
		c.ID, c.ExternalID, c.UserID, c.PaymentExternalID, c.Type, c.Stage, c.Status, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	return translate(err, "upsert claim")
}

func (s *Store) getClaim(ctx context.Context, where string, arg any) (*dispute.Claim, error) {
	c, err := scanClaim(s.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("claim %v not found", arg)
	}
	if err != nil {
		return nil, translate(err, "get claim")
	}
	return c, nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (*dispute.Claim, error) {
	return s.getClaim(ctx, "id::text = $1", id)
}

func (s *Store) GetClaimByExternalID(ctx context.Context, externalID string) (*dispute.Claim, error) {
	return s.getClaim(ctx, "external_id = $1", externalID)
}

// whereBuilder collects AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *whereBuilder) next() string {
	return fmt.Sprintf("$%d", len(w.args)+1)
}

func (s *Store) ListClaims(ctx context.Context, f dispute.ClaimFilter) ([]dispute.Claim, int, error) {
	var w whereBuilder
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		w.add("(external_id ILIKE ? OR payment_external_id ILIKE ? OR type ILIKE ?)", like, like, like)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count claims")
	}

	limit, offset := w.next(), fmt.Sprintf("$%d", len(w.args)+2)
	args := append(append([]any{}, w.args...), f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims`+w.String()+` ORDER BY created_at DESC LIMIT `+limit+` OFFSET `+offset,
		args...)
	if err != nil {
		return nil, 0, translate(err, "list claims")
	}
	defer rows.Close()

	out := []dispute.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, translate(err, "scan claim")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "list claims")
	}
	return out, total, nil
}

func (s *Store) ListOpenClaims(ctx context.Context) ([]dispute.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+claimColumns+` FROM claims
		WHERE status NOT IN ('resolved_won', 'resolved_lost')
		ORDER BY updated_at`)
	if err != nil {
		return nil, translate(err, "list open claims")
	}
	defer rows.Close()

	var out []dispute.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, translate(err, "scan claim")
		}
		out = append(out, *c)
	}
	return out, translate(rows.Err(), "list open claims")
}

func (s *Store) UpdateClaimStatus(ctx context.Context, id string, status dispute.ClaimStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE claims SET status = $2, updated_at = NOW() WHERE id::text = $1`, id, status)
	if err != nil {
		return translate(err, "update claim status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("claim %s not found", id)
	}
	return nil
}

const chargebackColumns = `id, external_id, user_id, payment_external_id, amount, currency, status,
	internal_notes, created_at, updated_at`

func scanChargeback(row rowScanner) (*dispute.Chargeback, error) {
	var cb dispute.Chargeback
	if err := row.Scan(&cb.ID, &cb.ExternalID, &cb.UserID, &cb.PaymentExternalID, &cb.Amount, &cb.Currency,
		&cb.Status, &cb.InternalNotes, &cb.CreatedAt, &cb.UpdatedAt); err != nil {
		return nil, err
	}
	return &cb, nil
}

// UpsertChargeback never touches internal_notes of an existing row.
func (s *Store) UpsertChargeback(ctx context.Context, cb *dispute.Chargeback) error {
	if cb.ID == "" {
		cb.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chargebacks (`+chargebackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_id) DO UPDATE SET
			user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), chargebacks.user_id),
			payment_external_id = EXCLUDED.payment_external_id,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, internal_notes, created_at`,
		cb.ID, cb.ExternalID, cb.UserID, cb.PaymentExternalID, cb.Amount, cb.Currency, cb.Status,
		cb.InternalNotes, cb.CreatedAt, cb.UpdatedAt,
	).Scan(&cb.ID, &cb.InternalNotes, &cb.CreatedAt)
	return translate(err, "upsert chargeback")
}

func (s *Store) GetChargeback(ctx context.Context, id string) (*dispute.Chargeback, error) {
	cb, err := scanChargeback(s.db.QueryRowContext(ctx, `SELECT `+chargebackColumns+` FROM chargebacks WHERE id::text = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("chargeback %s not found", id)
	}
	if err != nil {
		return nil, translate(err, "get chargeback")
	}
	return cb, nil
}

func (s *Store) ListChargebacks(ctx context.Context, f dispute.ChargebackFilter) ([]dispute.Chargeback, int, error) {
	var w whereBuilder
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chargebacks`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count chargebacks")
	}

	limit, offset := w.next(), fmt.Sprintf("$%d", len(w.args)+2)
	args := append(append([]any{}, w.args...), f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chargebackColumns+` FROM chargebacks`+w.String()+` ORDER BY created_at DESC LIMIT `+limit+` OFFSET `+offset,
		args...)
	if err != nil {
		return nil, 0, translate(err, "list chargebacks")
	}
	defer rows.Close()

	out := []dispute.Chargeback{}
	for rows.Next() {
		cb, err := scanChargeback(rows)
		if err != nil {
			return nil, 0, translate(err, "scan chargeback")
		}
		out = append(out, *cb)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "list chargebacks")
	}
	return out, total, nil
}

func (s *Store) UpdateChargeback(ctx context.Context, cb *dispute.Chargeback) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chargebacks SET status = $2, internal_notes = $3, updated_at = $4
		WHERE id::text = $1`,
		cb.ID, cb.Status, cb.InternalNotes, cb.UpdatedAt,
	)
	if err != nil {
		return translate(err, "update chargeback")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("chargeback %s not found", cb.ID)
	}
	return nil
}
