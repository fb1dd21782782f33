package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/clock"
	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
	"go.uber.org/zap"
)

// PackageService леджер кредитов: пакеты уроков и их остатки.
// Списание идёт из самого старого активного пакета (FIFO) и всегда
// всё-или-ничего: при нехватке остатки не трогаются.
type PackageService struct {
	db       base.DB
	packages repository.PackageStore
	users    repository.UserStore
	clk      clock.Clock
	logger   *zap.Logger
}

func NewPackageService(
	db base.DB,
	packages repository.PackageStore,
	users repository.UserStore,
	clk clock.Clock,
	logger *zap.Logger,
) *PackageService {
	return &PackageService{
		db:       db,
		packages: packages,
		users:    users,
		clk:      clk,
		logger:   logger,
	}
}

// Grant выдаёт студенту пакет на totalLessons уроков
func (s *PackageService) Grant(ctx context.Context, studentID int64, totalLessons int, expiresAt *time.Time) (*model.LessonPackage, error) {
	if totalLessons <= 0 {
		return nil, fmt.Errorf("package size must be positive, got %d", totalLessons)
	}

	exists, err := s.users.Exists(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("check student: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("student %d: %w", studentID, model.ErrNotFound)
	}

	pkg := &model.LessonPackage{
		StudentID:        studentID,
		TotalLessons:     totalLessons,
		RemainingLessons: totalLessons,
		ExpiresAt:        expiresAt,
	}

	if err := s.packages.Create(ctx, pkg); err != nil {
		return nil, fmt.Errorf("grant package: %w", err)
	}

	s.logger.Info("Package granted",
		zap.Int64("package_id", pkg.ID),
		zap.Int64("student_id", studentID),
		zap.Int("total_lessons", totalLessons),
	)

	return pkg, nil
}

// StudentCredits возвращает суммарный остаток кредитов по активным пакетам
func (s *PackageService) StudentCredits(ctx context.Context, studentID int64) (int, error) {
	return s.packages.SumRemainingActive(ctx, studentID, s.clk.Now())
}

// HasEnoughCredits проверяет что у студента хватает кредитов на n уроков.
// Проверка без блокировки, к моменту списания ответ может устареть.
func (s *PackageService) HasEnoughCredits(ctx context.Context, studentID int64, n int) (bool, error) {
	sum, err := s.packages.SumRemainingActive(ctx, studentID, s.clk.Now())
	if err != nil {
		return false, err
	}
	return sum >= n, nil
}

// Deduct списывает n кредитов студента в собственной транзакции
func (s *PackageService) Deduct(ctx context.Context, studentID int64, n int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.DeductTx(ctx, tx, studentID, n); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeductTx списывает n кредитов внутри чужой транзакции q — так проведение
// урока и списание фиксируются атомарно. Активные пакеты блокируются от
// старых к новым; если суммы не хватает, ни один остаток не меняется и
// возвращается ErrInsufficientCredits.
func (s *PackageService) DeductTx(ctx context.Context, q base.Querier, studentID int64, n int) error {
	if n <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", n)
	}

	packages := s.packages.WithTx(q)

	active, err := packages.ListActiveForUpdate(ctx, studentID, s.clk.Now())
	if err != nil {
		return fmt.Errorf("lock packages: %w", err)
	}

	total := 0
	for _, pkg := range active {
		total += pkg.RemainingLessons
	}
	if total < n {
		return fmt.Errorf("student %d has %d of %d credits: %w", studentID, total, n, model.ErrInsufficientCredits)
	}

	left := n
	for _, pkg := range active {
		if left == 0 {
			break
		}
		take := pkg.RemainingLessons
		if take > left {
			take = left
		}
		if err := packages.UpdateRemaining(ctx, pkg.ID, pkg.RemainingLessons-take); err != nil {
			return fmt.Errorf("deduct from package %d: %w", pkg.ID, err)
		}
		left -= take
	}

	s.logger.Info("Credits deducted",
		zap.Int64("student_id", studentID),
		zap.Int("amount", n),
	)

	return nil
}

// Refund возвращает n кредитов студенту в его пакеты, начиная с самых
// новых. Остаток пакета не может превысить его размер; кредиты, которым
// не нашлось места, пропадают с предупреждением в логе.
func (s *PackageService) Refund(ctx context.Context, studentID int64, n int) error {
	if n <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", n)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	packages := s.packages.WithTx(tx)

	all, err := packages.ListByStudentForUpdate(ctx, studentID)
	if err != nil {
		return fmt.Errorf("lock packages: %w", err)
	}

	left := n
	for i := len(all) - 1; i >= 0 && left > 0; i-- {
		pkg := all[i]
		room := pkg.TotalLessons - pkg.RemainingLessons
		if room <= 0 {
			continue
		}
		give := room
		if give > left {
			give = left
		}
		if err := packages.UpdateRemaining(ctx, pkg.ID, pkg.RemainingLessons+give); err != nil {
			return fmt.Errorf("refund to package %d: %w", pkg.ID, err)
		}
		left -= give
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if left > 0 {
		s.logger.Warn("Refund exceeded package capacity",
			zap.Int64("student_id", studentID),
			zap.Int("requested", n),
			zap.Int("lost", left),
		)
	} else {
		s.logger.Info("Credits refunded",
			zap.Int64("student_id", studentID),
			zap.Int("amount", n),
		)
	}

	return nil
}

// GetStudentPackages получает пакеты студента от старых к новым
func (s *PackageService) GetStudentPackages(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	return s.packages.ListByStudent(ctx, studentID)
}

// GetEndingSoon получает активные пакеты с остатком не выше порога
func (s *PackageService) GetEndingSoon(ctx context.Context, threshold int) ([]*model.LessonPackage, error) {
	return s.packages.ListEndingSoon(ctx, threshold, s.clk.Now())
}

// GetExpired получает истёкшие пакеты со сгоревшим остатком
func (s *PackageService) GetExpired(ctx context.Context) ([]*model.LessonPackage, error) {
	return s.packages.ListExpired(ctx, s.clk.Now())
}

// GetExpiredBetween получает пакеты со сгоревшим остатком, истёкшие
// в окне (from, to]
func (s *PackageService) GetExpiredBetween(ctx context.Context, from, to time.Time) ([]*model.LessonPackage, error) {
	return s.packages.ListExpiredBetween(ctx, from, to)
}
