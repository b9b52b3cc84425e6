package services

import "gorm.io/gorm"

// txRunner runs a function inside a database transaction. Services depend on
// this instead of *gorm.DB directly so unit tests can substitute a
// passthrough.
type txRunner func(fn func(tx *gorm.DB) error) error

func gormTxRunner(db *gorm.DB) txRunner {
	return func(fn func(tx *gorm.DB) error) error {
		return db.Transaction(fn)
	}
}
