// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/packpool-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrPackExists возвращается при попытке создать круг с уже занятым именем.
	ErrPackExists = errors.New("pack already exists")
	// ErrPackNotFound возвращается, если круг не найден.
	ErrPackNotFound = errors.New("pack not found")
	// ErrMemberNotFound возвращается, если участие пользователя в круге не найдено.
	ErrMemberNotFound = errors.New("member not found")
	// ErrAlreadyMember возвращается, если пользователь уже состоит в круге.
	ErrAlreadyMember = errors.New("user already in pack")
	// ErrPackFull возвращается при попытке вступить в круг без свободных мест.
	ErrPackFull = errors.New("pack is full")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentInProgress возвращается, если у участника уже есть незавершённый платёж этого типа.
	ErrPaymentInProgress = errors.New("payment already in progress")
	// ErrMemberHasPayments возвращается при попытке удалить участника с платёжной историей.
	ErrMemberHasPayments = errors.New("member has payment history")
	// ErrAlreadySettled возвращается, если платёж уже покинул статус PENDING.
	// Для путей сверки это штатный исход, а не ошибка.
	ErrAlreadySettled = errors.New("payment already settled")
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

// withRetry повторяет fn при конфликтах сериализации и дедлоках.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, name, email, phone string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, phone, password_hash) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, email, phone, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, name, email, phone, password_hash, account_number, account_name, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.AccountNumber, &u.AccountName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UpdatePayoutDestination сохраняет реквизиты пользователя для получения выплат.
func (r *PostgresRepository) UpdatePayoutDestination(ctx context.Context, userID int64, accountNumber, accountName string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET account_number = $2, account_name = $3 WHERE id = $1`,
		userID, accountNumber, accountName,
	)
	if err != nil {
		return fmt.Errorf("update payout destination: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const packColumns = `id, name, contribution, target_amount, total_members, current_round,
	current_contributions, total_contributions, status, created_by, created_at`

func scanPack(row pgx.Row) (*model.Pack, error) {
	var p model.Pack
	err := row.Scan(&p.ID, &p.Name, &p.Contribution, &p.TargetAmount, &p.TotalMembers, &p.CurrentRound,
		&p.CurrentContributions, &p.TotalContributions, &p.Status, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackNotFound
		}
		return nil, fmt.Errorf("scan pack: %w", err)
	}
	return &p, nil
}

// CreatePack создаёт новый накопительный круг.
func (r *PostgresRepository) CreatePack(ctx context.Context, name string, contribution, targetAmount int64, totalMembers int, createdBy int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO packs (name, contribution, target_amount, total_members, created_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		name, contribution, targetAmount, totalMembers, createdBy,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return 0, fmt.Errorf("%w: %s", ErrPackExists, name)
			}
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				return 0, ErrUserNotFound
			}
		}
		return 0, fmt.Errorf("create pack: %w", err)
	}
	return id, nil
}

// GetPackByID возвращает круг по идентификатору.
func (r *PostgresRepository) GetPackByID(ctx context.Context, id int64) (*model.Pack, error) {
	return scanPack(r.pool.QueryRow(ctx,
		`SELECT `+packColumns+` FROM packs WHERE id = $1`, id))
}

// PackWithCount описывает круг вместе с текущим числом участников.
type PackWithCount struct {
	Pack        model.Pack
	MemberCount int
}

// ListPacks возвращает все круги с фактическим числом участников.
func (r *PostgresRepository) ListPacks(ctx context.Context) ([]PackWithCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.contribution, p.target_amount, p.total_members, p.current_round,
		        p.current_contributions, p.total_contributions, p.status, p.created_by, p.created_at,
		        count(m.id)
		 FROM packs p
		 LEFT JOIN pack_members m ON m.pack_id = p.id
		 GROUP BY p.id
		 ORDER BY p.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select packs: %w", err)
	}
	defer rows.Close()

	var res []PackWithCount
	for rows.Next() {
		var pc PackWithCount
		p := &pc.Pack
		if err := rows.Scan(&p.ID, &p.Name, &p.Contribution, &p.TargetAmount, &p.TotalMembers, &p.CurrentRound,
			&p.CurrentContributions, &p.TotalContributions, &p.Status, &p.CreatedBy, &p.CreatedAt,
			&pc.MemberCount); err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		res = append(res, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (r *PostgresRepository) listPacksWhere(ctx context.Context, clause string, args ...any) ([]model.Pack, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+packColumns+` FROM packs `+clause+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("select packs: %w", err)
	}
	defer rows.Close()

	var res []model.Pack
	for rows.Next() {
		var p model.Pack
		if err := rows.Scan(&p.ID, &p.Name, &p.Contribution, &p.TargetAmount, &p.TotalMembers, &p.CurrentRound,
			&p.CurrentContributions, &p.TotalContributions, &p.Status, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListPacksByMember возвращает круги, в которых состоит пользователь.
func (r *PostgresRepository) ListPacksByMember(ctx context.Context, userID int64) ([]model.Pack, error) {
	return r.listPacksWhere(ctx,
		`WHERE id IN (SELECT pack_id FROM pack_members WHERE user_id = $1)`, userID)
}

// ListPacksByCreator возвращает круги, созданные пользователем.
func (r *PostgresRepository) ListPacksByCreator(ctx context.Context, userID int64) ([]model.Pack, error) {
	return r.listPacksWhere(ctx, `WHERE created_by = $1`, userID)
}

// UpdatePack изменяет имя и/или статус круга.
func (r *PostgresRepository) UpdatePack(ctx context.Context, id int64, name *string, status *model.PackStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE packs SET name = COALESCE($2, name), status = COALESCE($3, status) WHERE id = $1`,
		id, name, (*string)(status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrPackExists
		}
		return fmt.Errorf("update pack: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPackNotFound
	}
	return nil
}

// AddMember добавляет пользователя в круг, назначая ему следующий порядковый номер.
// Вставка и подсчёт мест выполняются под блокировкой строки круга, чтобы два
// одновременных вступления не получили один номер и не превысили вместимость.
func (r *PostgresRepository) AddMember(ctx context.Context, packID, userID int64) (*model.Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var totalMembers int
	err = tx.QueryRow(ctx,
		`SELECT total_members FROM packs WHERE id = $1 FOR UPDATE`, packID,
	).Scan(&totalMembers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackNotFound
		}
		return nil, fmt.Errorf("lock pack: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM pack_members WHERE pack_id = $1`, packID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}

	if count >= totalMembers {
		return nil, ErrPackFull
	}

	var m model.Member
	err = tx.QueryRow(ctx,
		`INSERT INTO pack_members (pack_id, user_id, member_order)
		 VALUES ($1, $2, $3)
		 RETURNING id, pack_id, user_id, member_order, has_contributed, has_received, joined_at`,
		packID, userID, count+1,
	).Scan(&m.ID, &m.PackID, &m.UserID, &m.Order, &m.HasContributed, &m.HasReceived, &m.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return nil, ErrAlreadyMember
			}
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				return nil, ErrUserNotFound
			}
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &m, nil
}

// RemoveMember удаляет участие пользователя в круге и сдвигает номера
// оставшихся участников вниз одним атомарным шагом, сохраняя плотную
// нумерацию 1..N без разрывов.
func (r *PostgresRepository) RemoveMember(ctx context.Context, packID, userID int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM packs WHERE id = $1 FOR UPDATE`, packID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPackNotFound
			}
			return fmt.Errorf("lock pack: %w", err)
		}

		var removedOrder int
		err = tx.QueryRow(ctx,
			`DELETE FROM pack_members WHERE pack_id = $1 AND user_id = $2 RETURNING member_order`,
			packID, userID,
		).Scan(&removedOrder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrMemberNotFound
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return ErrMemberHasPayments
			}
			return fmt.Errorf("delete member: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE pack_members SET member_order = member_order - 1
			 WHERE pack_id = $1 AND member_order > $2`,
			packID, removedOrder,
		)
		if err != nil {
			return fmt.Errorf("renumber members: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// ListMembers возвращает участников круга в порядке очереди выплат.
func (r *PostgresRepository) ListMembers(ctx context.Context, packID int64) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, pack_id, user_id, member_order, has_contributed, has_received, joined_at
		 FROM pack_members
		 WHERE pack_id = $1
		 ORDER BY member_order`,
		packID,
	)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	var res []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.PackID, &m.UserID, &m.Order, &m.HasContributed, &m.HasReceived, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MemberInfo объединяет участие с его кругом и пользователем.
type MemberInfo struct {
	Member model.Member
	Pack   model.Pack
	User   model.User
}

// GetMemberInfo возвращает участие вместе с кругом и пользователем.
func (r *PostgresRepository) GetMemberInfo(ctx context.Context, memberID int64) (*MemberInfo, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT m.id, m.pack_id, m.user_id, m.member_order, m.has_contributed, m.has_received, m.joined_at,
		        p.id, p.name, p.contribution, p.target_amount, p.total_members, p.current_round,
		        p.current_contributions, p.total_contributions, p.status, p.created_by, p.created_at,
		        u.id, u.name, u.email, u.phone, u.password_hash, u.account_number, u.account_name, u.created_at
		 FROM pack_members m
		 JOIN packs p ON p.id = m.pack_id
		 JOIN users u ON u.id = m.user_id
		 WHERE m.id = $1`,
		memberID,
	)

	var info MemberInfo
	m, p, u := &info.Member, &info.Pack, &info.User
	err := row.Scan(
		&m.ID, &m.PackID, &m.UserID, &m.Order, &m.HasContributed, &m.HasReceived, &m.JoinedAt,
		&p.ID, &p.Name, &p.Contribution, &p.TargetAmount, &p.TotalMembers, &p.CurrentRound,
		&p.CurrentContributions, &p.TotalContributions, &p.Status, &p.CreatedBy, &p.CreatedAt,
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.AccountNumber, &u.AccountName, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member info: %w", err)
	}

	return &info, nil
}

// CreatePayment создаёт платёж в статусе PENDING. Частичный уникальный индекс
// payments_pending_unique_idx гарантирует не более одного незавершённого
// платежа данного типа на участника, закрывая гонку проверка-создание.
func (r *PostgresRepository) CreatePayment(ctx context.Context, memberID, userID, amount int64, pType model.PaymentType, flutterRef string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (member_id, user_id, amount, type, flutter_ref)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		memberID, userID, amount, string(pType), flutterRef,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrPaymentInProgress
		}
		return 0, fmt.Errorf("create payment: %w", err)
	}
	return id, nil
}

// HasPendingPayment сообщает, есть ли у участника незавершённый платёж
// данного типа. Проверка опережающая: авторитетно гонку закрывает
// уникальный индекс в CreatePayment.
func (r *PostgresRepository) HasPendingPayment(ctx context.Context, memberID int64, pType model.PaymentType) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM payments WHERE member_id = $1 AND type = $2 AND status = 'PENDING'
		 )`,
		memberID, string(pType),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending payment: %w", err)
	}
	return exists, nil
}

const paymentColumns = `id, member_id, user_id, amount, type, status, flutter_ref, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.MemberID, &p.UserID, &p.Amount, &p.Type, &p.Status, &p.FlutterRef, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// GetPaymentByRef возвращает платёж по ссылке платёжного шлюза.
func (r *PostgresRepository) GetPaymentByRef(ctx context.Context, flutterRef string) (*model.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE flutter_ref = $1`, flutterRef))
}

// ListPaymentsByUser возвращает платежи пользователя.
func (r *PostgresRepository) ListPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return r.listPaymentsWhere(ctx, `WHERE user_id = $1`, userID)
}

// ListPaymentsByPack возвращает платежи всех участников круга.
func (r *PostgresRepository) ListPaymentsByPack(ctx context.Context, packID int64) ([]model.Payment, error) {
	return r.listPaymentsWhere(ctx,
		`WHERE member_id IN (SELECT id FROM pack_members WHERE pack_id = $1)`, packID)
}

func (r *PostgresRepository) listPaymentsWhere(ctx context.Context, clause string, args ...any) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments `+clause+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.MemberID, &p.UserID, &p.Amount, &p.Type, &p.Status, &p.FlutterRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// settlePending переводит платёж из PENDING в newStatus ровно один раз.
// Условие status = 'PENDING' в UPDATE служит compare-and-swap: из двух
// конкурирующих каналов подтверждения эффект применит только тот, чей
// UPDATE затронул строку.
func settlePending(ctx context.Context, tx pgx.Tx, paymentID int64, newStatus model.PaymentStatus) error {
	cmdTag, err := tx.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE id = $1 AND status = 'PENDING'`,
		paymentID, string(newStatus),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, paymentID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check payment: %w", err)
		}
		if !exists {
			return ErrPaymentNotFound
		}
		return ErrAlreadySettled
	}

	return nil
}

// SettleContribution применяет подтверждённый взнос: платёж переходит в
// SUCCESS, участник помечается внёсшим, счётчики круга увеличиваются.
// Все эффекты выполняются в одной транзакции; повторный вызов для уже
// подтверждённого платежа возвращает ErrAlreadySettled и ничего не меняет.
func (r *PostgresRepository) SettleContribution(ctx context.Context, paymentID int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := settlePending(ctx, tx, paymentID, model.PaymentStatusSuccess); err != nil {
			return err
		}

		var memberID, amount int64
		err = tx.QueryRow(ctx,
			`SELECT member_id, amount FROM payments WHERE id = $1`, paymentID,
		).Scan(&memberID, &amount)
		if err != nil {
			return fmt.Errorf("select payment: %w", err)
		}

		var packID int64
		err = tx.QueryRow(ctx,
			`UPDATE pack_members SET has_contributed = TRUE WHERE id = $1 RETURNING pack_id`,
			memberID,
		).Scan(&packID)
		if err != nil {
			return fmt.Errorf("mark contributed: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE packs
			 SET current_contributions = current_contributions + $2,
			     total_contributions = total_contributions + $2
			 WHERE id = $1`,
			packID, amount,
		)
		if err != nil {
			return fmt.Errorf("apply contribution: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// PayoutResult описывает исход завершённой выплаты.
type PayoutResult struct {
	PackID   int64
	NewRound int
	Complete bool
}

// SettlePayout применяет подтверждённую выплату: платёж переходит в SUCCESS,
// получатель помечается, и в той же транзакции круг переводится на следующий
// раунд (или завершается). Счётчик взносов обнуляется и флаги участников
// сбрасываются до коммита, поэтому ни один читатель не увидит выплату SUCCESS
// при устаревшем номере раунда.
func (r *PostgresRepository) SettlePayout(ctx context.Context, paymentID int64) (*PayoutResult, error) {
	var res *PayoutResult

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := settlePending(ctx, tx, paymentID, model.PaymentStatusSuccess); err != nil {
			return err
		}

		var memberID int64
		err = tx.QueryRow(ctx,
			`SELECT member_id FROM payments WHERE id = $1`, paymentID,
		).Scan(&memberID)
		if err != nil {
			return fmt.Errorf("select payment: %w", err)
		}

		var packID int64
		err = tx.QueryRow(ctx,
			`UPDATE pack_members SET has_received = TRUE WHERE id = $1 RETURNING pack_id`,
			memberID,
		).Scan(&packID)
		if err != nil {
			return fmt.Errorf("mark received: %w", err)
		}

		var currentRound, totalMembers int
		err = tx.QueryRow(ctx,
			`SELECT current_round, total_members FROM packs WHERE id = $1 FOR UPDATE`, packID,
		).Scan(&currentRound, &totalMembers)
		if err != nil {
			return fmt.Errorf("lock pack: %w", err)
		}

		transition := model.NextRound(currentRound, totalMembers)

		status := model.PackStatusActive
		if transition.Complete {
			status = model.PackStatusCompleted
		}

		_, err = tx.Exec(ctx,
			`UPDATE packs
			 SET current_round = $2, current_contributions = 0, status = $3
			 WHERE id = $1`,
			packID, transition.NewRound, string(status),
		)
		if err != nil {
			return fmt.Errorf("advance round: %w", err)
		}

		// В завершённом круге флаги последнего раунда сохраняются как есть.
		if !transition.Complete {
			_, err = tx.Exec(ctx,
				`UPDATE pack_members SET has_contributed = FALSE, has_received = FALSE WHERE pack_id = $1`,
				packID,
			)
			if err != nil {
				return fmt.Errorf("reset member flags: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = &PayoutResult{PackID: packID, NewRound: transition.NewRound, Complete: transition.Complete}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// MarkPaymentFailed переводит платёж из PENDING в FAILED. Для уже
// завершённого платежа возвращает ErrAlreadySettled.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, paymentID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := settlePending(ctx, tx, paymentID, model.PaymentStatusFailed); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
