package main

import (
	"log"
	"os"
	"strings"

	"savingsd/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Any permission errors will be logged and ignored.
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	// Ensure the roles master table exists first and seed it so users FK can be applied safely.
	if shouldMigrate {
		if err := db.AutoMigrate(&models.Role{}); err != nil {
			log.Printf("migration warning (roles): %v", err)
		}
	}
	seedRoles()

	// Now migrate the rest (users will get FK to roles)
	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others
		if err := db.AutoMigrate(&models.User{}); err != nil {
			log.Printf("migration warning (users): %v", err)
		}
		if err := db.AutoMigrate(&models.Transaction{}); err != nil {
			log.Printf("migration warning (transactions): %v", err)
		}
		if err := db.AutoMigrate(&models.SavingsRecord{}); err != nil {
			log.Printf("migration warning (savings_records): %v", err)
		}
		if err := db.AutoMigrate(&models.UserSettings{}); err != nil {
			log.Printf("migration warning (user_settings): %v", err)
		}
		if err := db.AutoMigrate(&models.Profile{}); err != nil {
			log.Printf("migration warning (profiles): %v", err)
		}
		if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
			log.Printf("migration warning (refresh_tokens): %v", err)
		}
	}

	// Ensure the change-notification trigger exists so listeners get per-user
	// invalidation events (see listener.go).
	if shouldMigrate {
		if err := ensureChangeNotifyTrigger(); err != nil {
			log.Printf("warning: ensuring transactions notify trigger failed: %v", err)
		}
	}
	seedDB()
}

// ensureChangeNotifyTrigger installs a row trigger that publishes the owning
// user id on the tx_changes channel after any transactions write.
func ensureChangeNotifyTrigger() error {
	if err := db.Exec(`CREATE OR REPLACE FUNCTION notify_tx_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('tx_changes', COALESCE(NEW.user_id, OLD.user_id)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`).Error; err != nil {
		return err
	}
	if err := db.Exec(`DROP TRIGGER IF EXISTS transactions_notify ON transactions`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE TRIGGER transactions_notify
		AFTER INSERT OR UPDATE OR DELETE ON transactions
		FOR EACH ROW EXECUTE FUNCTION notify_tx_change()`).Error
}

func seedRoles() {
	roles := []models.Role{{Name: "administrator", Description: "full access"}, {Name: "user", Description: "regular user"}}
	for _, r := range roles {
		var cnt int64
		db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&cnt)
		if cnt == 0 {
			db.Create(&r)
		}
	}
}

func seedDB() {
	seedRoles()

	// Check if admin user exists
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count == 0 {
		// find administrator role id
		var role models.Role
		if err := db.Where("name = ?", "administrator").First(&role).Error; err != nil {
			log.Printf("failed to find administrator role: %v", err)
		}
		// Seed admin user
		rid := role.ID
		admin := models.User{
			Username: "admin",
			RoleID:   &rid,
		}
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		admin.HashedPassword = hashedPassword
		db.Create(&admin)
		log.Println("Seeded admin user: username=admin, password=admin123")
	}
	// Ensure admin has a one-to-one profile and default settings
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		log.Printf("failed to find admin user after seeding: %v", err)
		return
	}
	var pcount int64
	db.Model(&models.Profile{}).Where("user_id = ?", admin.ID).Count(&pcount)
	if pcount == 0 {
		profile := models.Profile{UserID: admin.ID, DisplayName: "Administrator", Email: "admin@example.com"}
		if err := db.Create(&profile).Error; err != nil {
			log.Printf("failed to create profile for admin: %v", err)
		} else {
			log.Println("Seeded admin profile for user id:", admin.ID)
		}
	}
	var scount int64
	db.Model(&models.UserSettings{}).Where("user_id = ?", admin.ID).Count(&scount)
	if scount == 0 {
		if err := db.Create(defaultSettings(admin.ID)).Error; err != nil {
			log.Printf("failed to create settings for admin: %v", err)
		}
	}
}

// defaultSettings returns the settings row a fresh account starts with.
func defaultSettings(userID uint) *models.UserSettings {
	return &models.UserSettings{
		UserID:     userID,
		Currency:   "USD",
		DailyGoal:  decimal.Zero,
		WeeklyGoal: decimal.Zero,
		Theme:      "system",
		WeekStart:  models.WeekStartSunday,
	}
}
