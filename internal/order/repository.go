package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var ErrDuplicatePaymentID = errors.New("payment id already used")

// itemColumn names the order_items column an upstream deletion refers to.
type itemColumn string

const (
	itemColumnProduct itemColumn = "product_id"
	itemColumnSize    itemColumn = "size_id"
	itemColumnBrand   itemColumn = "brand_id"
)

const orderColumns = `id, user_id, payment_id, payment_intent_id, status,
	country, locality, region, postal_code, street, house_number,
	description, payment_link, creation_date_time, update_date_time`

type Repository interface {
	// Create stores the order and its items in one transaction.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	ListByUser(ctx context.Context, userID int64) ([]*Order, error)

	// UpdateByID and UpdateByPaymentID lock the row, hand the current state
	// to fn and persist whatever fn left in the order. An error from fn
	// rolls the transaction back.
	UpdateByID(ctx context.Context, id int64, fn func(*Order) error) (*Order, error)
	UpdateByPaymentID(ctx context.Context, paymentID string, fn func(*Order) error) (*Order, error)

	// Delete removes the order only while its status is one of allowed.
	Delete(ctx context.Context, id int64, allowed ...Status) (int64, error)
	DeleteAwaitingByItem(ctx context.Context, column itemColumn, id int64) (int64, error)
}

type repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) Repository {
	return &repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o      Order
		intent sql.NullString
		link   sql.NullString
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.PaymentID,
		&intent,
		&o.Status,
		&o.Country,
		&o.Locality,
		&o.Region,
		&o.PostalCode,
		&o.Street,
		&o.HouseNumber,
		&o.Description,
		&link,
		&o.CreationDateTime,
		&o.UpdateDateTime,
	)
	if err != nil {
		return nil, err
	}
	if intent.Valid {
		o.PaymentIntentID = &intent.String
	}
	o.PaymentLink = link.String
	return &o, nil
}

func (r *repository) Create(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("payment_id", o.PaymentID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			user_id, payment_id, status,
			country, locality, region, postal_code, street, house_number,
			description, payment_link, creation_date_time, update_date_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`,
		o.UserID,
		o.PaymentID,
		o.Status,
		o.Country,
		o.Locality,
		o.Region,
		o.PostalCode,
		o.Street,
		o.HouseNumber,
		o.Description,
		o.PaymentLink,
		o.CreationDateTime,
		o.UpdateDateTime,
	).Scan(&o.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicatePaymentID
		}
		log.Error("failed to insert order", zap.Error(err))
		return err
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (
				order_id, product_id, size_id, brand_id, quantity
			) VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`,
			item.OrderID,
			item.ProductID,
			item.SizeID,
			item.BrandID,
			item.Quantity,
		).Scan(&item.ID)
		if err != nil {
			log.Error("failed to insert order item",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit order", zap.Error(err))
		return err
	}

	log.Info("order stored", zap.Int64("order_id", o.ID), zap.Int("item_count", len(o.Items)))
	return nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := r.loadItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY creation_date_time DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		orders []*Order
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func (r *repository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, size_id, brand_id, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]OrderItem, len(orderIDs))
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SizeID, &it.BrandID, &it.Quantity); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (r *repository) UpdateByID(ctx context.Context, id int64, fn func(*Order) error) (*Order, error) {
	return r.updateLocked(ctx, "id", id, fn)
}

func (r *repository) UpdateByPaymentID(ctx context.Context, paymentID string, fn func(*Order) error) (*Order, error) {
	return r.updateLocked(ctx, "payment_id", paymentID, fn)
}

// updateLocked re-reads the row under FOR UPDATE so concurrent deliveries for
// the same order serialize on the database, not in memory.
func (r *repository) updateLocked(ctx context.Context, key string, arg any, fn func(*Order) error) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "updateLocked"),
		zap.String("key", key),
		zap.Any("value", arg),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE %s = $1 FOR UPDATE", orderColumns, key), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		log.Error("failed to lock order", zap.Error(err))
		return nil, err
	}

	if err := fn(o); err != nil {
		if errors.Is(err, errNoChange) {
			return o, nil
		}
		return nil, err
	}

	o.UpdateDateTime = r.now()
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			payment_intent_id = $2,
			country = $3,
			locality = $4,
			region = $5,
			postal_code = $6,
			street = $7,
			house_number = $8,
			description = $9,
			update_date_time = $10
		WHERE id = $11
	`,
		o.Status,
		o.PaymentIntentID,
		o.Country,
		o.Locality,
		o.Region,
		o.PostalCode,
		o.Street,
		o.HouseNumber,
		o.Description,
		o.UpdateDateTime,
		o.ID,
	)
	if err != nil {
		log.Error("failed to update order", zap.Error(err))
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit order update", zap.Error(err))
		return nil, err
	}
	return o, nil
}

func (r *repository) Delete(ctx context.Context, id int64, allowed ...Status) (int64, error) {
	statuses := make([]string, 0, len(allowed))
	for _, s := range allowed {
		statuses = append(statuses, string(s))
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM orders WHERE id = $1 AND status = ANY($2)", id, pq.Array(statuses))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAwaitingByItem drops unpaid orders holding an item that references
// a catalog entity removed upstream. order_items rows cascade.
func (r *repository) DeleteAwaitingByItem(ctx context.Context, column itemColumn, id int64) (int64, error) {
	switch column {
	case itemColumnProduct, itemColumnSize, itemColumnBrand:
	default:
		return 0, fmt.Errorf("unsupported item column %q", column)
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM orders
		WHERE status = $1
		AND id IN (SELECT order_id FROM order_items WHERE %s = $2)
	`, column), StatusAwaitingPayment, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
