package migration

import (
	"gorm.io/gorm"

	"askbounty/models"
)

func init() {
	Register("001_core_schema", migrate001)
}

func migrate001(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Question{},
		&models.Answer{},
		&models.Endorsement{},
	); err != nil {
		return err
	}

	// AutoMigrate covers the tagged indexes; these back the hot settlement
	// discovery query and the per-target endorsement scans.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_questions_unsettled ON questions(deadline) WHERE settled = false")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_endorsements_target ON endorsements(target_type, target_id)")

	return nil
}
