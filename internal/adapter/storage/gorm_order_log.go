package storage

import (
	"context"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// orderRecordModel is the row shape of the order commit log.
type orderRecordModel struct {
	OrderID   string    `gorm:"column:order_id;primaryKey;size:64"`
	ItemID    string    `gorm:"column:item_id;size:64;not null"`
	Quantity  int64     `gorm:"column:quantity;not null"`
	Status    string    `gorm:"column:status;size:16;not null;index:idx_status_created,priority:1"`
	Reason    string    `gorm:"column:reason;size:32"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_status_created,priority:2"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (orderRecordModel) TableName() string { return "order_records" }

func toOrderModel(r domain.OrderRecord) orderRecordModel {
	return orderRecordModel{
		OrderID:   r.OrderID,
		ItemID:    r.ItemID,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		Reason:    string(r.Reason),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (m orderRecordModel) toDomain() domain.OrderRecord {
	return domain.OrderRecord{
		OrderID:   m.OrderID,
		ItemID:    m.ItemID,
		Quantity:  m.Quantity,
		Status:    domain.OrderStatus(m.Status),
		Reason:    domain.RejectReason(m.Reason),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// GormOrderLog is the MySQL order commit log. An insert is acknowledged
// only after InnoDB commits it.
type GormOrderLog struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormOrderLog(db *gorm.DB) *GormOrderLog {
	return &GormOrderLog{db: db, now: time.Now}
}

func (l *GormOrderLog) EnsureSchema(ctx context.Context) error {
	return errors.Wrap(l.db.WithContext(ctx).AutoMigrate(&orderRecordModel{}), "migrate order_records")
}

func (l *GormOrderLog) Append(ctx context.Context, record domain.OrderRecord) error {
	model := toOrderModel(record)
	err := l.db.WithContext(ctx).Create(&model).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicateOrder
	}
	return domain.Unavailable("append order", err)
}

func (l *GormOrderLog) Get(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	var model orderRecordModel
	err := l.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.OrderRecord{}, domain.Unavailable("get order", err)
	}
	return model.toDomain(), nil
}

func (l *GormOrderLog) Transition(ctx context.Context, orderID string, from, to domain.OrderStatus, reason domain.RejectReason) error {
	if !from.CanTransition(to) {
		return domain.ErrStatusConflict
	}

	result := l.db.WithContext(ctx).
		Model(&orderRecordModel{}).
		Where("order_id = ? AND status = ?", orderID, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"reason":     string(reason),
			"updated_at": l.now(),
		})
	if result.Error != nil {
		return domain.Unavailable("transition order", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := l.Get(ctx, orderID); err != nil {
		return err
	}
	return domain.ErrStatusConflict
}

func (l *GormOrderLog) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OrderRecord, error) {
	var models []orderRecordModel
	err := l.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.OrderStatusPending), olderThan).
		Order("created_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, domain.Unavailable("list pending", err)
	}

	records := make([]domain.OrderRecord, 0, len(models))
	for _, m := range models {
		records = append(records, m.toDomain())
	}
	return records, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
