package models

import (
	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Receivable{}, &Payment{}, &BankSlip{}, &Customer{},
		&SyncRun{}, &SyncRecordError{},
	)
	utils.ErrorPanic(err)
}
