package db

import (
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hoepeyemi/solick-sub001/internal/config"
	"github.com/hoepeyemi/solick-sub001/internal/models"
)

// Open connects to the configured database.
func Open(cfg *config.Config) (*gorm.DB, error) {
	d := cfg.Database
	var dialector gorm.Dialector
	switch d.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
		dialector = mysql.Open(dsn)
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			d.Host, d.User, d.Password, d.DBName, d.Port, d.SSLMode)
		dialector = postgres.Open(dsn)
	default:
		return nil, models.Configurationf("unsupported database.driver %q", d.Driver)
	}
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
}

func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

// InsertPaymentIfAbsent inserts p unless a row with the same signature exists.
// The unique index on signature decides; callers read the row back.
func InsertPaymentIfAbsent(conn *gorm.DB, p *models.Payment) error {
	return conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}).Create(p).Error
}

func GetPaymentBySignature(conn *gorm.DB, signature string) (*models.Payment, error) {
	var p models.Payment
	if err := conn.Where("signature = ?", signature).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// LockPaymentBySignature reads a payment row with a row lock held until the
// surrounding transaction ends.
func LockPaymentBySignature(conn *gorm.DB, signature string) (*models.Payment, error) {
	return GetPaymentBySignature(conn.Clauses(clause.Locking{Strength: "UPDATE"}), signature)
}

// LockSpendablePayments returns the user's verified payments that still hold
// credit, oldest first, locked for update.
func LockSpendablePayments(conn *gorm.DB, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ? AND credit_remaining > 0", userID, models.PaymentVerified).
		Order("created_at ASC").Order("id ASC").
		Find(&payments).Error
	return payments, err
}

func LockPaymentsByID(conn *gorm.DB, ids []string) ([]models.Payment, error) {
	var payments []models.Payment
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}

func UpdatePaymentCredit(conn *gorm.DB, id string, remaining, used uint64) error {
	return conn.Model(&models.Payment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"credit_remaining": remaining,
		"credit_used":      used,
	}).Error
}

// UpdatePendingPayment applies updates only while the row is still PENDING and
// reports whether it did.
func UpdatePendingPayment(conn *gorm.DB, id string, updates map[string]interface{}) (bool, error) {
	res := conn.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func SumUserCredit(conn *gorm.DB, userID string) (uint64, error) {
	var total uint64
	err := conn.Model(&models.Payment{}).
		Select("COALESCE(SUM(credit_remaining), 0)").
		Where("user_id = ? AND status = ?", userID, models.PaymentVerified).
		Scan(&total).Error
	return total, err
}

// ListPaymentsByUser returns the user's payments newest first.
func ListPaymentsByUser(conn *gorm.DB, userID string, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := conn.Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return payments, q.Find(&payments).Error
}

// ListPendingPayments returns PENDING payments oldest first.
func ListPendingPayments(conn *gorm.DB, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := conn.Where("status = ?", models.PaymentPending).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return payments, q.Find(&payments).Error
}

func SaveSponsoredTransaction(conn *gorm.DB, st *models.SponsoredTransaction) error {
	return conn.Omit(clause.Associations).Create(st).Error
}

func UpdateSponsoredTransaction(conn *gorm.DB, id string, updates map[string]interface{}) error {
	res := conn.Model(&models.SponsoredTransaction{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func GetSponsoredTransaction(conn *gorm.DB, id string) (*models.SponsoredTransaction, error) {
	var st models.SponsoredTransaction
	if err := conn.Where("id = ?", id).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func LockSponsoredTransaction(conn *gorm.DB, id string) (*models.SponsoredTransaction, error) {
	return GetSponsoredTransaction(conn.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func SaveCreditAllocations(conn *gorm.DB, allocations []models.CreditAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	return conn.Create(&allocations).Error
}

func ListCreditAllocations(conn *gorm.DB, sponsoredID string) ([]models.CreditAllocation, error) {
	var allocations []models.CreditAllocation
	err := conn.Where("sponsored_transaction_id = ?", sponsoredID).Order("id ASC").Find(&allocations).Error
	return allocations, err
}

func SaveWallet(conn *gorm.DB, w *models.Wallet) error {
	return conn.Save(w).Error
}

// GetWallet looks a wallet up by user id or by address.
func GetWallet(conn *gorm.DB, key string) (*models.Wallet, error) {
	var w models.Wallet
	if err := conn.Where("user_id = ? OR address = ?", key, key).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}
