package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shelfshare/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NewPostgresRepository opens a Postgres-backed repository. Migrations are
// applied separately with ApplyMigrations.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	repo, err := newPostgresRepository(context.Background(), dsn, opts...)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newPostgresRepository(ctx context.Context, dsn string, opts ...Option) (*postgresRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

// withConn acquires a pooled connection bounded by the acquire timeout. The
// deadline also covers fn when the caller supplied none.
func (r *postgresRepository) withConn(ctx context.Context, fn func(context.Context, *pgxpool.Conn) error) error {
	if r == nil || r.pool == nil {
		return errors.New("postgres repository closed")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *postgresRepository) now() time.Time {
	return r.cfg.Clock().UTC()
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		return nil
	})
}

func (r *postgresRepository) CreateUser(ctx context.Context, login, passwordHash string) (models.User, error) {
	now := r.now()
	user := models.User{Login: login, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx,
			`INSERT INTO users (login, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $3) RETURNING id`,
			login, passwordHash, now,
		).Scan(&user.ID)
	})
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return models.User{}, ErrLoginTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

const userColumns = `id, login, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Login, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, err
}

func (r *postgresRepository) FindUserByLogin(ctx context.Context, login string) (models.User, bool, error) {
	return r.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE login = $1`, login)
}

func (r *postgresRepository) GetUser(ctx context.Context, id int64) (models.User, bool, error) {
	return r.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *postgresRepository) queryUser(ctx context.Context, query string, arg any) (models.User, bool, error) {
	var user models.User
	found := false
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		scanned, err := scanUser(conn.QueryRow(ctx, query, arg))
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		user, found = scanned, true
		return nil
	})
	if err != nil {
		return models.User{}, false, fmt.Errorf("load user: %w", err)
	}
	return user, found, nil
}

func (r *postgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	users := make([]models.User, 0)
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *postgresRepository) HasGrant(ctx context.Context, ownerID, targetID int64) (bool, error) {
	var exists bool
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM library_access WHERE owner_id = $1 AND target_id = $2)`,
			ownerID, targetID,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return exists, nil
}

// InsertGrant relies on the primary key so concurrent duplicates both succeed.
func (r *postgresRepository) InsertGrant(ctx context.Context, ownerID, targetID int64) error {
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO library_access (owner_id, target_id, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT (owner_id, target_id) DO NOTHING`,
			ownerID, targetID, r.now(),
		)
		return err
	})
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return fmt.Errorf("insert grant: %w", ErrUserNotFound)
		}
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

const bookColumns = `id, user_id, title, text, external_id, is_deleted, created_at, updated_at`

func scanBook(row pgx.Row) (models.Book, error) {
	var book models.Book
	err := row.Scan(&book.ID, &book.OwnerID, &book.Title, &book.Text, &book.ExternalID, &book.IsDeleted, &book.CreatedAt, &book.UpdatedAt)
	book.CreatedAt = book.CreatedAt.UTC()
	book.UpdatedAt = book.UpdatedAt.UTC()
	return book, err
}

func (r *postgresRepository) CreateBook(ctx context.Context, params CreateBookParams) (models.Book, error) {
	now := r.now()
	book := models.Book{
		OwnerID:    params.OwnerID,
		Title:      params.Title,
		Text:       params.Text,
		ExternalID: params.ExternalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx,
			`INSERT INTO books (user_id, title, text, external_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
			params.OwnerID, params.Title, params.Text, params.ExternalID, now,
		).Scan(&book.ID)
	})
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return models.Book{}, fmt.Errorf("insert book: %w", ErrUserNotFound)
		}
		return models.Book{}, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

func (r *postgresRepository) GetBook(ctx context.Context, id int64, includeDeleted bool) (models.Book, bool, error) {
	var book models.Book
	found := false
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		scanned, err := scanBook(conn.QueryRow(ctx,
			`SELECT `+bookColumns+` FROM books WHERE id = $1 AND (is_deleted = FALSE OR $2)`,
			id, includeDeleted,
		))
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		book, found = scanned, true
		return nil
	})
	if err != nil {
		return models.Book{}, false, fmt.Errorf("load book: %w", err)
	}
	return book, found, nil
}

func (r *postgresRepository) ListBooks(ctx context.Context, ownerID int64) ([]models.Book, error) {
	books := make([]models.Book, 0)
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+bookColumns+` FROM books WHERE user_id = $1 AND is_deleted = FALSE ORDER BY id ASC`,
			ownerID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			book, err := scanBook(rows)
			if err != nil {
				return err
			}
			books = append(books, book)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (r *postgresRepository) UpdateBook(ctx context.Context, id int64, update BookUpdate) (bool, error) {
	return r.execAffecting(ctx, "update book",
		`UPDATE books SET title = $2, text = $3, updated_at = $4 WHERE id = $1 AND is_deleted = FALSE`,
		id, update.Title, update.Text, r.now(),
	)
}

func (r *postgresRepository) SoftDeleteBook(ctx context.Context, id int64) (bool, error) {
	return r.execAffecting(ctx, "delete book",
		`UPDATE books SET is_deleted = TRUE, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`,
		id, r.now(),
	)
}

func (r *postgresRepository) RestoreBook(ctx context.Context, id int64) (bool, error) {
	return r.execAffecting(ctx, "restore book",
		`UPDATE books SET is_deleted = FALSE, updated_at = $2 WHERE id = $1 AND is_deleted = TRUE`,
		id, r.now(),
	)
}

func (r *postgresRepository) execAffecting(ctx context.Context, operation, query string, args ...any) (bool, error) {
	var affected int64
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", operation, err)
	}
	return affected > 0, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
