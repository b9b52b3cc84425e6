package repositories

import (
	"errors"
	"time"

	"billing_backend/internal/models"

	"gorm.io/gorm"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

type InvoiceRepository interface {
	WithTx(tx *gorm.DB) InvoiceRepository

	Create(invoice *models.Invoice) error
	FindByProviderInvoiceID(providerInvoiceID string) (*models.Invoice, error)
	Update(invoice *models.Invoice) error
	UpdateStatus(providerInvoiceID string, status models.InvoiceStatus, paidAt *time.Time) error
	IncrementRetryCount(providerInvoiceID string) error
	FindBySubscription(subscriptionID string, limit int) ([]models.Invoice, error)
}

type InvoiceRepositoryImpl struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &InvoiceRepositoryImpl{db: db}
}

func (r *InvoiceRepositoryImpl) WithTx(tx *gorm.DB) InvoiceRepository {
	return &InvoiceRepositoryImpl{db: tx}
}

func (r *InvoiceRepositoryImpl) Create(invoice *models.Invoice) error {
	return r.db.Create(invoice).Error
}

func (r *InvoiceRepositoryImpl) FindByProviderInvoiceID(providerInvoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.First(&invoice, "provider_invoice_id = ?", providerInvoiceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepositoryImpl) Update(invoice *models.Invoice) error {
	return r.db.Save(invoice).Error
}

func (r *InvoiceRepositoryImpl) UpdateStatus(providerInvoiceID string, status models.InvoiceStatus, paidAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if paidAt != nil {
		updates["paid_at"] = paidAt
	}
	res := r.db.Model(&models.Invoice{}).
		Where("provider_invoice_id = ?", providerInvoiceID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *InvoiceRepositoryImpl) IncrementRetryCount(providerInvoiceID string) error {
	return r.db.Model(&models.Invoice{}).
		Where("provider_invoice_id = ?", providerInvoiceID).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *InvoiceRepositoryImpl) FindBySubscription(subscriptionID string, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := r.db.Where("subscription_id = ?", subscriptionID).Order("period_start DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&invoices).Error
	return invoices, err
}
