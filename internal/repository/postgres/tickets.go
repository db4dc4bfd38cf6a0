package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/repository"
)

const ticketColumns = `id, number, status, buyer_name, buyer_email, payment_id, order_id,
	reserved_at, sold_at, updated_at`

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// FindAvailable returns the ticket only while it is available.
//
// Returns:
//   - error: repository.ErrNotFound if the number does not exist or is not available.
func (r *TicketRepo) FindAvailable(ctx context.Context, number string) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.FindAvailable"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+`
		 FROM raffle_tickets
		 WHERE number = $1 AND status = 'available'`,
		number,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

func (r *TicketRepo) Get(ctx context.Context, number string) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.Get"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM raffle_tickets WHERE number = $1`,
		number,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

func (r *TicketRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.GetByID"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM raffle_tickets WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

func (r *TicketRepo) GetByOrder(ctx context.Context, orderID string) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.GetByOrder"

	if orderID == "" {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM raffle_tickets WHERE order_id = $1`,
		orderID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// Reserve moves an available ticket to pending for buyer in a single
// conditional update, so only one of several concurrent callers can win.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - number: ticket number to reserve.
//   - buyer: buyer identity attached to the reservation.
//   - orderID: correlation id of this reservation attempt.
//
// Returns:
//   - *domain.Ticket: the reserved ticket.
//   - error: repository.ErrConflict if the ticket is not available anymore.
//   - error: repository.ErrNotFound if the number does not exist.
func (r *TicketRepo) Reserve(
	ctx context.Context,
	number string,
	buyer domain.Buyer,
	orderID string,
) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.Reserve"

	db := r.handle()

	t, err := scanTicket(db.QueryRow(ctx,
		`UPDATE raffle_tickets
		 SET status = 'pending', buyer_name = $2, buyer_email = $3, order_id = $4,
		     payment_id = '', reserved_at = now(), updated_at = now()
		 WHERE number = $1 AND status = 'available'
		 RETURNING `+ticketColumns,
		number, buyer.Name, buyer.Email, orderID,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	if _, err := r.state(ctx, db, number); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
}

// AttachPayment records the gateway payment-request reference on a pending reservation.
//
// Returns:
//   - error: repository.ErrConflict if the reservation is gone.
func (r *TicketRepo) AttachPayment(ctx context.Context, number, orderID, paymentRef string) error {
	const op = "postgresrepo.TicketRepo.AttachPayment"

	tag, err := r.handle().Exec(ctx,
		`UPDATE raffle_tickets
		 SET payment_id = $3, updated_at = now()
		 WHERE number = $1 AND status = 'pending' AND order_id = $2`,
		number, orderID, paymentRef,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	return nil
}

// Release returns a pending ticket to available and clears the holder fields.
// An empty orderID releases whatever reservation is pending.
//
// Returns:
//   - bool: false when the ticket was already available (no-op).
//   - error: repository.ErrAlreadySold if the ticket is sold.
//   - error: repository.ErrStaleOrder if the ticket is pending for another order.
//   - error: repository.ErrNotFound if the number does not exist.
func (r *TicketRepo) Release(ctx context.Context, number, orderID string) (bool, error) {
	const op = "postgresrepo.TicketRepo.Release"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE raffle_tickets
		 SET status = 'available', buyer_name = '', buyer_email = '', payment_id = '',
		     order_id = '', reserved_at = NULL, updated_at = now()
		 WHERE number = $1 AND status = 'pending' AND ($2::text = '' OR order_id = $2::text)`,
		number, orderID,
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	cur, err := r.state(ctx, db, number)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	switch cur.status {
	case domain.TicketAvailable:
		return false, nil
	case domain.TicketSold:
		return false, fmt.Errorf("%s:%w", op, repository.ErrAlreadySold)
	default:
		return false, fmt.Errorf("%s:%w", op, repository.ErrStaleOrder)
	}
}

// ConfirmSold moves a pending ticket to sold and records the payment id.
//
// Returns:
//   - *domain.Ticket: the ticket after the call.
//   - bool: false when the ticket was already sold; nothing was changed.
//   - error: repository.ErrNotReserved if the ticket is available.
//   - error: repository.ErrStaleOrder if the ticket is pending for another order.
//   - error: repository.ErrNotFound if the number does not exist.
func (r *TicketRepo) ConfirmSold(
	ctx context.Context,
	number, orderID, paymentID string,
) (*domain.Ticket, bool, error) {
	const op = "postgresrepo.TicketRepo.ConfirmSold"

	db := r.handle()

	t, err := scanTicket(db.QueryRow(ctx,
		`UPDATE raffle_tickets
		 SET status = 'sold', payment_id = $3, sold_at = now(), updated_at = now()
		 WHERE number = $1 AND status = 'pending' AND ($2::text = '' OR order_id = $2::text)
		 RETURNING `+ticketColumns,
		number, orderID, paymentID,
	))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, wrapDBErr(op, err)
	}

	cur, err := r.Get(ctx, number)
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	switch cur.Status {
	case domain.TicketSold:
		return cur, false, nil
	case domain.TicketAvailable:
		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrNotReserved)
	default:
		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrStaleOrder)
	}
}

// Reverse undoes a sale after a refund or chargeback of paymentID.
//
// Returns:
//   - error: repository.ErrConflict if the ticket is not sold under paymentID.
//   - error: repository.ErrNotFound if the number does not exist.
func (r *TicketRepo) Reverse(ctx context.Context, number, paymentID string) error {
	const op = "postgresrepo.TicketRepo.Reverse"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE raffle_tickets
		 SET status = 'available', buyer_name = '', buyer_email = '', payment_id = '',
		     order_id = '', reserved_at = NULL, sold_at = NULL, updated_at = now()
		 WHERE number = $1 AND status = 'sold' AND payment_id = $2`,
		number, paymentID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.state(ctx, db, number); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return fmt.Errorf("%s:%w", op, repository.ErrConflict)
}

// ListAll returns number and status of every ticket ordered by number.
func (r *TicketRepo) ListAll(ctx context.Context) ([]domain.TicketSummary, error) {
	const op = "postgresrepo.TicketRepo.ListAll"

	rows, err := r.handle().Query(ctx,
		`SELECT number, status FROM raffle_tickets ORDER BY number`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.TicketSummary
	for rows.Next() {
		var s domain.TicketSummary
		var status string

		if err := rows.Scan(&s.Number, &status); err != nil {
			return nil, wrapDBErr(op, err)
		}

		s.Status = domain.TicketStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *TicketRepo) ListByStatus(
	ctx context.Context,
	status domain.TicketStatus,
	limit, offset int,
) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.ListByStatus"

	rows, err := r.handle().Query(ctx,
		`SELECT `+ticketColumns+`
		 FROM raffle_tickets
		 WHERE status = $1
		 ORDER BY number
		 LIMIT $2 OFFSET $3`,
		string(status), limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return collectTickets(op, rows)
}

// ListStalePending returns tickets reserved at or before the given time.
func (r *TicketRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.ListStalePending"

	rows, err := r.handle().Query(ctx,
		`SELECT `+ticketColumns+`
		 FROM raffle_tickets
		 WHERE status = 'pending' AND reserved_at <= $1
		 ORDER BY reserved_at
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return collectTickets(op, rows)
}

func (r *TicketRepo) CountByStatus(ctx context.Context, status domain.TicketStatus) (int64, error) {
	const op = "postgresrepo.TicketRepo.CountByStatus"

	var n int64
	if err := r.handle().QueryRow(ctx,
		`SELECT count(*) FROM raffle_tickets WHERE status = $1`,
		string(status),
	).Scan(&n); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

func (r *TicketRepo) Counts(ctx context.Context) (*domain.TicketCounts, error) {
	const op = "postgresrepo.TicketRepo.Counts"

	var c domain.TicketCounts
	err := r.handle().QueryRow(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sold' THEN 1 ELSE 0 END), 0)
		 FROM raffle_tickets`,
	).Scan(&c.Available, &c.Pending, &c.Sold)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	c.Total = c.Available + c.Pending + c.Sold

	return &c, nil
}

// Reseed wipes the pool and bulk-inserts numbers as available tickets in one
// transaction.
func (r *TicketRepo) Reseed(ctx context.Context, numbers []string) (int64, error) {
	const op = "postgresrepo.TicketRepo.Reseed"

	if r.db != nil {
		n, err := reseedCore(ctx, r.db, numbers)
		if err != nil {
			return 0, wrapDBErr(op, err)
		}
		return n, nil
	}

	var n int64
	err := runTx(ctx, r.pool, nil, func(ctx context.Context, tx DB) error {
		var err error
		n, err = reseedCore(ctx, tx, numbers)
		return err
	})
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

func reseedCore(ctx context.Context, db DB, numbers []string) (int64, error) {
	if _, err := db.Exec(ctx, `DELETE FROM raffle_tickets`); err != nil {
		return 0, err
	}

	rows := make([][]any, 0, len(numbers))
	for _, n := range numbers {
		rows = append(rows, []any{uuid.New(), n, string(domain.TicketAvailable)})
	}

	return db.CopyFrom(ctx,
		pgx.Identifier{"raffle_tickets"},
		[]string{"id", "number", "status"},
		pgx.CopyFromRows(rows),
	)
}

type ticketState struct {
	status  domain.TicketStatus
	orderID string
}

func (r *TicketRepo) state(ctx context.Context, db DB, number string) (ticketState, error) {
	var st ticketState
	var status string

	err := db.QueryRow(ctx,
		`SELECT status, order_id FROM raffle_tickets WHERE number = $1`,
		number,
	).Scan(&status, &st.orderID)
	if err != nil {
		return st, translateDBErr(err)
	}

	st.status = domain.TicketStatus(status)

	return st, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	var status string

	if err := row.Scan(
		&t.ID,
		&t.Number,
		&status,
		&t.BuyerName,
		&t.BuyerEmail,
		&t.PaymentID,
		&t.OrderID,
		&t.ReservedAt,
		&t.SoldAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = domain.TicketStatus(status)

	return &t, nil
}

func collectTickets(op string, rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
