package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/bookmart/bookstore/internal/app/domain/catalog"
	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/domain/user"
	"github.com/bookmart/bookstore/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Multi-statement
// order operations run inside serializable transactions; every balance and
// stock mutation is a single conditional update so the database, not the
// application, is the authority that closes check-then-act races.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// withTx runs fn inside a serializable transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, password_hash, balance, token, terminal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.PasswordHash, u.Balance, u.Token, u.Terminal, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrExists
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash, balance, token, terminal, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)

	var u user.User
	if err := row.Scan(&u.ID, &u.PasswordHash, &u.Balance, &u.Token, &u.Terminal, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateSession(ctx context.Context, id, token, terminal string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET token = $2, terminal = $3, updated_at = $4
		WHERE id = $1
	`, id, token, terminal, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash, token, terminal string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, token = $3, terminal = $4, updated_at = $5
		WHERE id = $1
	`, id, passwordHash, token, terminal, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) Deposit(ctx context.Context, id string, amount int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1
	`, id, amount, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.ErrNotFound
	}
	return nil
}

// --- CatalogStore -----------------------------------------------------------

func (s *Store) CreateStore(ctx context.Context, st catalog.Store) (catalog.Store, error) {
	st.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, owner_id, created_at)
		VALUES ($1, $2, $3)
	`, st.ID, st.OwnerID, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.Store{}, catalog.ErrStoreExists
		}
		return catalog.Store{}, err
	}
	return st, nil
}

func (s *Store) GetStore(ctx context.Context, id string) (catalog.Store, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, created_at FROM stores WHERE id = $1
	`, id)

	var st catalog.Store
	if err := row.Scan(&st.ID, &st.OwnerID, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Store{}, catalog.ErrStoreNotFound
		}
		return catalog.Store{}, err
	}
	return st, nil
}

func (s *Store) ListStores(ctx context.Context, ownerID string) ([]catalog.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, created_at
		FROM stores
		WHERE $1 = '' OR owner_id = $1
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Store
	for rows.Next() {
		var st catalog.Store
		if err := rows.Scan(&st.ID, &st.OwnerID, &st.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) CreateListing(ctx context.Context, l catalog.Listing) (catalog.Listing, error) {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (store_id, book_id, title, author, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.StoreID, l.BookID, l.Title, l.Author, l.Price, l.Stock, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.Listing{}, catalog.ErrBookExists
		}
		return catalog.Listing{}, err
	}
	return l, nil
}

func (s *Store) GetListing(ctx context.Context, storeID, bookID string) (catalog.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT store_id, book_id, title, author, price, stock, created_at, updated_at
		FROM listings
		WHERE store_id = $1 AND book_id = $2
	`, storeID, bookID)

	var l catalog.Listing
	if err := row.Scan(&l.StoreID, &l.BookID, &l.Title, &l.Author, &l.Price, &l.Stock, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Listing{}, catalog.ErrBookNotFound
		}
		return catalog.Listing{}, err
	}
	return l, nil
}

func (s *Store) ListListings(ctx context.Context, storeID string) ([]catalog.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, book_id, title, author, price, stock, created_at, updated_at
		FROM listings
		WHERE store_id = $1
		ORDER BY book_id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Listing
	for rows.Next() {
		var l catalog.Listing
		if err := rows.Scan(&l.StoreID, &l.BookID, &l.Title, &l.Author, &l.Price, &l.Stock, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *Store) AddStock(ctx context.Context, storeID, bookID string, delta int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET stock = stock + $3, updated_at = $4
		WHERE store_id = $1 AND book_id = $2
	`, storeID, bookID, delta, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.ErrBookNotFound
	}
	return nil
}

func (s *Store) SetPrice(ctx context.Context, storeID, bookID string, price int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET price = $3, updated_at = $4
		WHERE store_id = $1 AND book_id = $2
	`, storeID, bookID, price, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.ErrBookNotFound
	}
	return nil
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) PlaceOrder(ctx context.Context, ord order.Order, items []order.Item) (order.Order, error) {
	now := time.Now().UTC()
	ord.Status = order.StatusUnpaid
	ord.CreatedAt = now
	ord.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, buyer_id, store_id, status, total_price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, $6)
		`, ord.ID, ord.BuyerID, ord.StoreID, ord.Status, ord.CreatedAt, ord.UpdatedAt); err != nil {
			return err
		}

		var total int64
		for _, item := range items {
			var price int64
			err := tx.QueryRowContext(ctx, `
				SELECT price FROM listings WHERE store_id = $1 AND book_id = $2
			`, ord.StoreID, item.BookID).Scan(&price)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return catalog.ErrBookNotFound
				}
				return err
			}

			// Conditional decrement: zero matched rows means the remaining
			// stock cannot cover this line and the whole order aborts.
			result, err := tx.ExecContext(ctx, `
				UPDATE listings
				SET stock = stock - $3, updated_at = $4
				WHERE store_id = $1 AND book_id = $2 AND stock >= $3
			`, ord.StoreID, item.BookID, item.Quantity, now)
			if err != nil {
				return err
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				return catalog.ErrInsufficientStock
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_lines (order_id, book_id, quantity, price)
				VALUES ($1, $2, $3, $4)
			`, ord.ID, item.BookID, item.Quantity, price); err != nil {
				return err
			}
			total += price * int64(item.Quantity)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET total_price = $2 WHERE id = $1
		`, ord.ID, total); err != nil {
			return err
		}
		ord.TotalPrice = total
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	return ord, nil
}

func (s *Store) SettlePayment(ctx context.Context, orderID, buyerID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			ordBuyer string
			storeID  string
			total    int64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT buyer_id, store_id, total_price FROM orders WHERE id = $1
		`, orderID).Scan(&ordBuyer, &storeID, &total)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order.ErrNotFound
			}
			return err
		}
		if ordBuyer != buyerID {
			return order.ErrNotOwner
		}

		// The conditional flip is the settlement authority: a concurrent
		// payment of the same order matches zero rows here and aborts before
		// any money moves.
		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, updated_at = $3
			WHERE id = $1 AND status = $4
		`, orderID, order.StatusPending, time.Now().UTC(), order.StatusUnpaid)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return order.ErrInvalidState
		}

		var sellerID string
		err = tx.QueryRowContext(ctx, `
			SELECT owner_id FROM stores WHERE id = $1
		`, storeID).Scan(&sellerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return catalog.ErrStoreNotFound
			}
			return err
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE users
			SET balance = balance - $2, updated_at = $3
			WHERE id = $1 AND balance >= $2
		`, buyerID, total, time.Now().UTC())
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)
			`, buyerID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return user.ErrNotFound
			}
			return user.ErrInsufficientFunds
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE users
			SET balance = balance + $2, updated_at = $3
			WHERE id = $1
		`, sellerID, total, time.Now().UTC())
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return user.ErrNotFound
		}
		return nil
	})
}

func (s *Store) Transition(ctx context.Context, orderID string, from []order.Status, to order.Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var result sql.Result
		var err error
		if len(from) == 0 {
			result, err = tx.ExecContext(ctx, `
				UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
			`, orderID, to, time.Now().UTC())
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE orders
				SET status = $2, updated_at = $3
				WHERE id = $1 AND status = ANY($4)
			`, orderID, to, time.Now().UTC(), pq.Array(statusStrings(from)))
		}
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)
			`, orderID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrInvalidState
		}
		return nil
	})
}

func (s *Store) CancelOrder(ctx context.Context, orderID string, from []order.Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status  order.Status
			buyerID string
			storeID string
			total   int64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT status, buyer_id, store_id, total_price
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, orderID).Scan(&status, &buyerID, &storeID, &total)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order.ErrNotFound
			}
			return err
		}
		if !statusIn(status, from) {
			return order.ErrInvalidState
		}

		// Reserved stock goes back to the shelves.
		if _, err := tx.ExecContext(ctx, `
			UPDATE listings
			SET stock = stock + ol.quantity, updated_at = $3
			FROM order_lines ol
			WHERE ol.order_id = $1
			  AND listings.store_id = $2
			  AND listings.book_id = ol.book_id
		`, orderID, storeID, time.Now().UTC()); err != nil {
			return err
		}

		if status == order.StatusPending {
			// Payment already settled: reverse the transfer with the same
			// conditional-debit rule, this time against the seller.
			var sellerID string
			err := tx.QueryRowContext(ctx, `
				SELECT owner_id FROM stores WHERE id = $1
			`, storeID).Scan(&sellerID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return catalog.ErrStoreNotFound
				}
				return err
			}

			result, err := tx.ExecContext(ctx, `
				UPDATE users
				SET balance = balance - $2, updated_at = $3
				WHERE id = $1 AND balance >= $2
			`, sellerID, total, time.Now().UTC())
			if err != nil {
				return err
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				return user.ErrInsufficientFunds
			}

			result, err = tx.ExecContext(ctx, `
				UPDATE users
				SET balance = balance + $2, updated_at = $3
				WHERE id = $1
			`, buyerID, total, time.Now().UTC())
			if err != nil {
				return err
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				return user.ErrNotFound
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM order_lines WHERE order_id = $1
		`, orderID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM orders WHERE id = $1
		`, orderID)
		return err
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, store_id, status, total_price, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id)

	var ord order.Order
	if err := row.Scan(&ord.ID, &ord.BuyerID, &ord.StoreID, &ord.Status, &ord.TotalPrice, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, err
	}
	return ord, nil
}

func (s *Store) ListOrders(ctx context.Context, buyerID string) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_id, store_id, status, total_price, created_at, updated_at
		FROM orders
		WHERE $1 = '' OR buyer_id = $1
		ORDER BY created_at
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		var ord order.Order
		if err := rows.Scan(&ord.ID, &ord.BuyerID, &ord.StoreID, &ord.Status, &ord.TotalPrice, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ord)
	}
	return result, rows.Err()
}

func (s *Store) ListLines(ctx context.Context, orderID string) ([]order.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, book_id, quantity, price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY book_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Line
	for rows.Next() {
		var line order.Line
		if err := rows.Scan(&line.OrderID, &line.BookID, &line.Quantity, &line.Price); err != nil {
			return nil, err
		}
		result = append(result, line)
	}
	return result, rows.Err()
}

func statusStrings(statuses []order.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func statusIn(current order.Status, set []order.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, st := range set {
		if st == current {
			return true
		}
	}
	return false
}
