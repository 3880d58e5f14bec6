package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/infra/apperr"
)

const subscriptionColumns = `id, external_id, user_id, plan_id, status, amount, currency,
	current_period_start, current_period_end, last_four_card_digits, payer_email,
	last_payment_id, version, created_at, updated_at`

func scanSubscription(row rowScanner) (*billing.Subscription, error) {
	var (
		s          billing.Subscription
		externalID sql.NullString
	)
	err := row.Scan(&s.ID, &externalID, &s.UserID, &s.PlanID, &s.Status, &s.Amount, &s.Currency,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.LastFourCardDigits, &s.PayerEmail,
		&s.LastPaymentID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ExternalID = externalID.String
	return &s, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, nullString(sub.ExternalID), sub.UserID, sub.PlanID, sub.Status, sub.Amount, sub.Currency,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.LastFourCardDigits, sub.PayerEmail,
		sub.LastPaymentID, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	return translate(err, "insert subscription")
}

func (s *Store) getSubscription(ctx context.Context, where string, arg any) (*billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where, arg)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("subscription %v not found", arg)
	}
	if err != nil {
		return nil, translate(err, "get subscription")
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	return s.getSubscription(ctx, "id::text = $1", id)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*billing.Subscription, error) {
	return s.getSubscription(ctx, "external_id = $1", externalID)
}

func (s *Store) LatestSubscriptionForUser(ctx context.Context, userID string) (*billing.Subscription, error) {
	return s.getSubscription(ctx, "user_id = $1 ORDER BY created_at DESC LIMIT 1", userID)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET external_id = $2, status = $3, amount = $4, current_period_start = $5,
			current_period_end = $6, last_four_card_digits = $7, payer_email = $8,
			updated_at = $9, last_payment_id = $11, version = version + 1
		WHERE id = $1 AND version = $10`,
		sub.ID, nullString(sub.ExternalID), sub.Status, sub.Amount, sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd, sub.LastFourCardDigits, sub.PayerEmail, sub.UpdatedAt, sub.Version,
		sub.LastPaymentID,
	)
	if err != nil {
		return translate(err, "update subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, "update subscription")
	}
	if n == 0 {
		if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
			return err
		}
		return apperr.Conflict("subscription %s was modified concurrently", sub.ID)
	}
	sub.Version++
	return nil
}

// DeleteSubscription refuses while payments reference the subscription; the
// foreign key enforces the same rule for any other writer.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	return s.InTx(ctx, func(tx *sql.Tx) error {
		var payments int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE subscription_id::text = $1`, id).Scan(&payments); err != nil {
			return translate(err, "count subscription payments")
		}
		if payments > 0 {
			return apperr.Business("subscription %s has payments and cannot be deleted", id)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id::text = $1`, id)
		if err != nil {
			return translate(err, "delete subscription")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("subscription %s not found", id)
		}
		return nil
	})
}

const paymentColumns = `id, external_id, user_id, subscription_id, amount, currency, status,
	method, installments, payer_email, last_four_digits, created_at, approved_at, updated_at`

func scanPayment(row rowScanner) (*billing.Payment, error) {
	var (
		p              billing.Payment
		externalID     sql.NullString
		subscriptionID sql.NullString
		approvedAt     sql.NullTime
	)
	err := row.Scan(&p.ID, &externalID, &p.UserID, &subscriptionID, &p.Amount, &p.Currency, &p.Status,
		&p.Method, &p.Installments, &p.PayerEmail, &p.LastFourDigits, &p.CreatedAt, &approvedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ExternalID = externalID.String
	p.SubscriptionID = subscriptionID.String
	if approvedAt.Valid {
		at := approvedAt.Time
		p.ApprovedAt = &at
	}
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *billing.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, nullString(p.ExternalID), p.UserID, nullString(p.SubscriptionID), p.Amount, p.Currency, p.Status,
		p.Method, p.Installments, p.PayerEmail, p.LastFourDigits, p.CreatedAt, p.ApprovedAt, p.UpdatedAt,
	)
	return translate(err, "insert payment")
}

func (s *Store) getPayment(ctx context.Context, where string, arg any) (*billing.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("payment %v not found", arg)
	}
	if err != nil {
		return nil, translate(err, "get payment")
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	return s.getPayment(ctx, "id::text = $1", id)
}

func (s *Store) GetPaymentByExternalID(ctx context.Context, externalID string) (*billing.Payment, error) {
	return s.getPayment(ctx, "external_id = $1", externalID)
}

func (s *Store) LatestApprovedPayment(ctx context.Context, subscriptionID string) (*billing.Payment, error) {
	return s.getPayment(ctx,
		"subscription_id = $1 AND status = 'approved' ORDER BY COALESCE(approved_at, created_at) DESC LIMIT 1",
		subscriptionID)
}

func (s *Store) ListPaymentsByUser(ctx context.Context, userID string, limit, offset int) ([]billing.Payment, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, translate(err, "count payments")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, translate(err, "list payments")
	}
	defer rows.Close()

	out := []billing.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, translate(err, "scan payment")
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "list payments")
	}
	return out, total, nil
}

func (s *Store) RecordGatewayResult(ctx context.Context, p *billing.Payment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET external_id = $2, status = $3, last_four_digits = $4, approved_at = $5, updated_at = $6
		WHERE id = $1`,
		p.ID, nullString(p.ExternalID), p.Status, p.LastFourDigits, p.ApprovedAt, p.UpdatedAt,
	)
	if err != nil {
		return translate(err, "record gateway result")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("payment %s not found", p.ID)
	}
	return nil
}

// UpdatePaymentStatus is a compare-and-set on the status column.
func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, from, to billing.PaymentStatus, approvedAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET status = $3, approved_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, approvedAt,
	)
	if err != nil {
		return false, translate(err, "update payment status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "update payment status")
	}
	return n == 1, nil
}

const planColumns = `id, public_id, external_id, name, amount, currency, frequency_interval, frequency_unit, active`

func scanPlan(row rowScanner) (*billing.Plan, error) {
	var p billing.Plan
	if err := row.Scan(&p.ID, &p.PublicID, &p.ExternalID, &p.Name, &p.Amount, &p.Currency,
		&p.FrequencyInterval, &p.FrequencyUnit, &p.Active); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) getPlan(ctx context.Context, where string, arg any) (*billing.Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("plan %v not found", arg)
	}
	if err != nil {
		return nil, translate(err, "get plan")
	}
	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*billing.Plan, error) {
	return s.getPlan(ctx, "id::text = $1 OR public_id = $1", id)
}

func (s *Store) GetPlanByExternalID(ctx context.Context, externalID string) (*billing.Plan, error) {
	return s.getPlan(ctx, "external_id = $1", externalID)
}

func (s *Store) ListActivePlans(ctx context.Context) ([]billing.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans WHERE active ORDER BY amount`)
	if err != nil {
		return nil, translate(err, "list plans")
	}
	defer rows.Close()

	out := []billing.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, translate(err, "scan plan")
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list plans")
	}
	return out, nil
}

func (s *Store) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT external_id FROM customers WHERE user_id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("no gateway customer for user %s", userID)
	}
	if err != nil {
		return "", translate(err, "get customer")
	}
	return id, nil
}

func (s *Store) SaveCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (user_id, external_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET external_id = EXCLUDED.external_id`,
		userID, customerID,
	)
	return translate(err, "save customer")
}
