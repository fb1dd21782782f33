package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
)

// PackageStore хранилище пакетов уроков
type PackageStore interface {
	WithTx(q base.Querier) PackageStore
	Create(ctx context.Context, pkg *model.LessonPackage) error
	GetByID(ctx context.Context, id int64) (*model.LessonPackage, error)
	ListByStudent(ctx context.Context, studentID int64) ([]*model.LessonPackage, error)
	ListActiveForUpdate(ctx context.Context, studentID int64, now time.Time) ([]*model.LessonPackage, error)
	ListByStudentForUpdate(ctx context.Context, studentID int64) ([]*model.LessonPackage, error)
	UpdateRemaining(ctx context.Context, id int64, remaining int) error
	SumRemainingActive(ctx context.Context, studentID int64, now time.Time) (int, error)
	ListEndingSoon(ctx context.Context, threshold int, now time.Time) ([]*model.LessonPackage, error)
	ListExpired(ctx context.Context, now time.Time) ([]*model.LessonPackage, error)
	ListExpiredBetween(ctx context.Context, from, to time.Time) ([]*model.LessonPackage, error)
}

type PackageRepository struct {
	db base.Querier
}

func NewPackageRepository(db base.Querier) *PackageRepository {
	return &PackageRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции q
func (r *PackageRepository) WithTx(q base.Querier) PackageStore {
	return &PackageRepository{db: q}
}

const packageColumns = `id, student_id, total_lessons, remaining_lessons, expires_at, created_at`

func scanPackage(row interface{ Scan(dest ...any) error }) (*model.LessonPackage, error) {
	var p model.LessonPackage
	err := row.Scan(
		&p.ID,
		&p.StudentID,
		&p.TotalLessons,
		&p.RemainingLessons,
		&p.ExpiresAt,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create создаёт пакет
func (r *PackageRepository) Create(ctx context.Context, pkg *model.LessonPackage) error {
	query := `
		INSERT INTO lesson_packages (student_id, total_lessons, remaining_lessons, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		pkg.StudentID,
		pkg.TotalLessons,
		pkg.RemainingLessons,
		pkg.ExpiresAt,
	).Scan(&pkg.ID, &pkg.CreatedAt)

	if err != nil {
		return fmt.Errorf("create package: %w", err)
	}

	return nil
}

// GetByID получает пакет по ID
func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*model.LessonPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM lesson_packages WHERE id = $1`

	pkg, err := scanPackage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("package %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get package by id: %w", err)
	}
	return pkg, nil
}

// ListByStudent получает пакеты студента от старых к новым
func (r *PackageRepository) ListByStudent(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE student_id = $1
		ORDER BY created_at
	`
	return r.list(ctx, query, studentID)
}

// ListActiveForUpdate получает непустые неистёкшие пакеты студента от
// старых к новым и блокирует их до конца транзакции — порядок FIFO для
// списания кредитов.
func (r *PackageRepository) ListActiveForUpdate(ctx context.Context, studentID int64, now time.Time) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE student_id = $1
		  AND remaining_lessons > 0
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at
		FOR UPDATE
	`
	return r.list(ctx, query, studentID, now)
}

// ListByStudentForUpdate получает все пакеты студента с блокировкой строк
func (r *PackageRepository) ListByStudentForUpdate(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE student_id = $1
		ORDER BY created_at
		FOR UPDATE
	`
	return r.list(ctx, query, studentID)
}

// UpdateRemaining выставляет остаток кредитов пакета
func (r *PackageRepository) UpdateRemaining(ctx context.Context, id int64, remaining int) error {
	query := `
		UPDATE lesson_packages
		SET remaining_lessons = $2
		WHERE id = $1 AND $2 >= 0 AND $2 <= total_lessons
	`

	tag, err := r.db.Exec(ctx, query, id, remaining)
	if err != nil {
		return fmt.Errorf("update package remaining: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("package %d: invalid remaining %d", id, remaining)
	}

	return nil
}

// SumRemainingActive суммирует остаток кредитов по активным пакетам студента
func (r *PackageRepository) SumRemainingActive(ctx context.Context, studentID int64, now time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(remaining_lessons), 0)
		FROM lesson_packages
		WHERE student_id = $1
		  AND remaining_lessons > 0
		  AND (expires_at IS NULL OR expires_at > $2)
	`

	var sum int
	if err := r.db.QueryRow(ctx, query, studentID, now).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum remaining credits: %w", err)
	}

	return sum, nil
}

// ListEndingSoon получает активные пакеты с остатком не выше порога
func (r *PackageRepository) ListEndingSoon(ctx context.Context, threshold int, now time.Time) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE remaining_lessons > 0
		  AND remaining_lessons <= $1
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY student_id, created_at
	`
	return r.list(ctx, query, threshold, now)
}

// ListExpired получает истёкшие пакеты с ненулевым остатком
func (r *PackageRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE remaining_lessons > 0
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY student_id, created_at
	`
	return r.list(ctx, query, now)
}

// ListExpiredBetween получает пакеты с ненулевым остатком, чей срок вышел
// в окне (from, to] — выборка оркестратора, каждый пакет попадает ровно
// в один проход
func (r *PackageRepository) ListExpiredBetween(ctx context.Context, from, to time.Time) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE remaining_lessons > 0
		  AND expires_at IS NOT NULL
		  AND expires_at > $1
		  AND expires_at <= $2
		ORDER BY student_id, created_at
	`
	return r.list(ctx, query, from, to)
}

func (r *PackageRepository) list(ctx context.Context, query string, args ...any) ([]*model.LessonPackage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []*model.LessonPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, pkg)
	}

	return packages, rows.Err()
}
