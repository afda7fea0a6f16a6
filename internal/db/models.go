package db

import "github.com/hoepeyemi/solick-sub001/internal/models"

// Models lists every table AutoMigrate manages, parents before children.
func Models() []interface{} {
	return []interface{}{
		&models.Wallet{},
		&models.Payment{},
		&models.SponsoredTransaction{},
		&models.CreditAllocation{},
	}
}
