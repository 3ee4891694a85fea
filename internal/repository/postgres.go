// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/foodmarket-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrConcurrentModification возвращается при устаревшей версии заказа в CAS-обновлении.
	ErrConcurrentModification = errors.New("order modified concurrently")
	// ErrAlreadySettled возвращается при повторной попытке провести расчёт по заказу.
	ErrAlreadySettled = errors.New("order already settled")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках: обрывах соединения,
// дедлоках и сбоях сериализации. Бизнес-ошибки не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет заказ вместе с позициями и первой записью истории статусов.
// Все вставки выполняются в одной транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (
			id, customer_id, restaurant_id, status, version,
			delivery_address, latitude, longitude,
			delivery_fee, service_fee, tax_rate_bp, commission_bp, driver_payout, discount,
			subtotal, tax, total, commission, restaurant_payout, platform_profit
		 ) VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		o.ID, o.CustomerID, o.RestaurantID, string(o.Status),
		o.DeliveryAddress, o.Latitude, o.Longitude,
		o.Fees.DeliveryFeeMinor, o.Fees.ServiceFeeMinor, o.Fees.TaxRateBasisPoints,
		o.Fees.CommissionBasisPoints, o.Fees.DriverPayoutMinor, o.Fees.DiscountMinor,
		o.Breakdown.SubtotalMinor, o.Breakdown.TaxMinor, o.Breakdown.TotalMinor,
		o.Breakdown.CommissionMinor, o.Breakdown.RestaurantPayoutMinor, o.Breakdown.PlatformProfitMinor,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, catalog_item_id, unit_price, quantity, line_subtotal)
			 VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.CatalogItemID, it.UnitPriceMinor, it.Quantity, it.SubtotalMinor,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, actor_id) VALUES ($1, $2, $3)`,
		o.ID, string(o.Status), o.CustomerID,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)

	err := row.Scan(
		&o.ID, &o.CustomerID, &o.RestaurantID, &o.DriverID, &status, &o.Version,
		&o.DeliveryAddress, &o.Latitude, &o.Longitude,
		&o.Fees.DeliveryFeeMinor, &o.Fees.ServiceFeeMinor, &o.Fees.TaxRateBasisPoints,
		&o.Fees.CommissionBasisPoints, &o.Fees.DriverPayoutMinor, &o.Fees.DiscountMinor,
		&o.Breakdown.SubtotalMinor, &o.Breakdown.TaxMinor, &o.Breakdown.TotalMinor,
		&o.Breakdown.CommissionMinor, &o.Breakdown.RestaurantPayoutMinor, &o.Breakdown.PlatformProfitMinor,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.Breakdown.DeliveryFeeMinor = o.Fees.DeliveryFeeMinor
	o.Breakdown.ServiceFeeMinor = o.Fees.ServiceFeeMinor
	o.Breakdown.DiscountMinor = o.Fees.DiscountMinor
	o.Breakdown.DriverPayoutMinor = o.Fees.DriverPayoutMinor

	return &o, nil
}

const orderColumns = `id, customer_id, restaurant_id, driver_id, status, version,
	delivery_address, latitude, longitude,
	delivery_fee, service_fee, tax_rate_bp, commission_bp, driver_payout, discount,
	subtotal, tax, total, commission, restaurant_payout, platform_profit, created_at`

// GetOrder возвращает заказ с позициями по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var o *model.Order

	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

		var scanErr error
		o, scanErr = scanOrder(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.getOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return o, nil
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.LineItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT catalog_item_id, unit_price, quantity, line_subtotal
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var it model.LineItem
		if err := rows.Scan(&it.CatalogItemID, &it.UnitPriceMinor, &it.Quantity, &it.SubtotalMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetStatusHistory возвращает историю статусов заказа в порядке записи.
func (r *PostgresRepository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, actor_id, reason, changed_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status history: %w", err)
	}
	defer rows.Close()

	var res []model.StatusChange
	for rows.Next() {
		var (
			c      model.StatusChange
			status string
		)
		if err := rows.Scan(&status, &c.ActorID, &c.Reason, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		c.Status = model.OrderStatus(status)
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus переводит заказ в новый статус через CAS по версии
// и дописывает запись в историю. Обновление и история выполняются в одной
// транзакции: при любой ошибке заказ остаётся нетронутым.
func (r *PostgresRepository) UpdateOrderStatus(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	target model.OrderStatus,
	actorID int64,
	driverID *int64,
	reason string,
) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var cmdTag pgconn.CommandTag
	if driverID != nil {
		cmdTag, err = tx.Exec(ctx,
			`UPDATE orders SET status = $3, driver_id = $4, version = version + 1
			 WHERE id = $1 AND version = $2`,
			id, expectedVersion, string(target), *driverID,
		)
	} else {
		cmdTag, err = tx.Exec(ctx,
			`UPDATE orders SET status = $3, version = version + 1
			 WHERE id = $1 AND version = $2`,
			id, expectedVersion, string(target),
		)
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrConcurrentModification
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, actor_id, reason) VALUES ($1, $2, $3, $4)`,
		id, string(target), actorID, reason,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// RecordSettlement проводит расчёт по доставленному заказу: по одной записи
// для платформы, ресторана и курьера. Частичный уникальный индекс по
// (order_id, party) вместе с ON CONFLICT DO NOTHING гарантирует не более
// одного расчёта на заказ при любом числе конкурентных повторов.
func (r *PostgresRepository) RecordSettlement(ctx context.Context, o *model.Order) ([]model.SettlementEntry, error) {
	var driverID int64
	if o.DriverID != nil {
		driverID = *o.DriverID
	}

	entries := []model.SettlementEntry{
		{OrderID: o.ID, Party: model.PartyPlatform, PartyID: 0, AmountMinor: o.Breakdown.PlatformProfitMinor},
		{OrderID: o.ID, Party: model.PartyRestaurant, PartyID: o.RestaurantID, AmountMinor: o.Breakdown.RestaurantPayoutMinor},
		{OrderID: o.ID, Party: model.PartyDriver, PartyID: driverID, AmountMinor: o.Breakdown.DriverPayoutMinor},
	}

	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO settlement_entries (order_id, party, party_id, amount)
		 VALUES ($1, $2, $3, $4), ($1, $5, $6, $7), ($1, $8, $9, $10)
		 ON CONFLICT (order_id, party) WHERE NOT correction DO NOTHING`,
		o.ID,
		string(entries[0].Party), entries[0].PartyID, entries[0].AmountMinor,
		string(entries[1].Party), entries[1].PartyID, entries[1].AmountMinor,
		string(entries[2].Party), entries[2].PartyID, entries[2].AmountMinor,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrAlreadySettled
		}
		return nil, fmt.Errorf("insert settlement entries: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return nil, ErrAlreadySettled
	}

	return entries, nil
}

// RecordCorrection добавляет компенсирующую запись в журнал расчётов.
// Существующие записи никогда не изменяются.
func (r *PostgresRepository) RecordCorrection(
	ctx context.Context,
	orderID uuid.UUID,
	party model.Party,
	partyID int64,
	amountMinor int64,
	reason string,
) (*model.SettlementEntry, error) {
	e := model.SettlementEntry{
		OrderID:     orderID,
		Party:       party,
		PartyID:     partyID,
		AmountMinor: amountMinor,
		Correction:  true,
		Reason:      reason,
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO settlement_entries (order_id, party, party_id, amount, correction, reason)
		 VALUES ($1, $2, $3, $4, TRUE, $5)
		 RETURNING id, recorded_at`,
		orderID, string(party), partyID, amountMinor, reason,
	).Scan(&e.ID, &e.RecordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("insert correction entry: %w", err)
	}

	return &e, nil
}

// SumEntriesByParty возвращает сумму всех записей журнала для указанной стороны.
// Единственный источник данных для агрегации заработка: итоги никогда
// не пересчитываются из заказов напрямую.
func (r *PostgresRepository) SumEntriesByParty(ctx context.Context, party model.Party, partyID int64) (int64, error) {
	var total int64

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(amount), 0)
			 FROM settlement_entries
			 WHERE party = $1 AND party_id = $2`,
			string(party), partyID,
		).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("sum settlement entries: %w", err)
	}

	return total, nil
}

// GetEntriesByOrder возвращает все записи журнала по заказу.
func (r *PostgresRepository) GetEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]model.SettlementEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, party, party_id, amount, correction, reason, recorded_at
		 FROM settlement_entries
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select settlement entries: %w", err)
	}
	defer rows.Close()

	var res []model.SettlementEntry
	for rows.Next() {
		var (
			e     model.SettlementEntry
			party string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &party, &e.PartyID, &e.AmountMinor, &e.Correction, &e.Reason, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan settlement entry: %w", err)
		}
		e.Party = model.Party(party)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetUnsettledDelivered возвращает идентификаторы доставленных заказов,
// по которым нет ни одной записи в журнале расчётов.
func (r *PostgresRepository) GetUnsettledDelivered(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id
		 FROM orders o
		 WHERE o.status IN ($1, $2)
		   AND NOT EXISTS (
			SELECT 1 FROM settlement_entries e
			WHERE e.order_id = o.id AND NOT e.correction
		   )
		 ORDER BY o.created_at
		 LIMIT $3`,
		string(model.OrderStatusDelivered), string(model.OrderStatusCompleted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unsettled orders: %w", err)
	}
	defer rows.Close()

	var res []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
