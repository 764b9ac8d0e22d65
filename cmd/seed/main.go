// Development seeding tool: fills the database with fake users, questions and
// answers so the settlement scheduler has something to chew on locally.
package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"askbounty/logging"
	"askbounty/migration"
	"askbounty/models"
	"askbounty/setup"
)

func main() {
	log := logging.New("askbounty-seed")

	cfg, err := setup.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	if err := migration.Run(db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	gofakeit.Seed(time.Now().UnixNano())

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)

	var users []models.User
	for i := 0; i < 10; i++ {
		user := models.User{
			Username:     fmt.Sprintf("%s%d", gofakeit.Username(), i),
			PasswordHash: string(hash),
			IsActive:     true,
		}
		if i%2 == 0 {
			addr := fmt.Sprintf("0x%040x", rand.Int63())
			now := time.Now()
			user.WalletAddress = &addr
			user.WalletBoundAt = &now
		}
		if err := db.Create(&user).Error; err != nil {
			log.WithError(err).Warn("skipping user")
			continue
		}
		users = append(users, user)
	}
	if len(users) < 2 {
		log.Fatal("not enough users seeded")
	}

	for i := 0; i < 15; i++ {
		asker := users[rand.Intn(len(users))]
		question := models.Question{
			Title:       gofakeit.Sentence(6),
			Body:        gofakeit.Paragraph(1, 3, 10, " "),
			CreatorID:   asker.ID,
			TokenReward: cfg.Economics.MinReward + rand.Int63n(cfg.Economics.MaxReward-cfg.Economics.MinReward+1),
			Deadline:    time.Now().Add(time.Duration(1+rand.Intn(cfg.Economics.MaxDeadlineMinutes)) * time.Minute),
		}
		if err := db.Create(&question).Error; err != nil {
			log.WithError(err).Warn("skipping question")
			continue
		}

		for j := 0; j < rand.Intn(4); j++ {
			author := users[rand.Intn(len(users))]
			answer := models.Answer{
				QuestionID: question.ID,
				AuthorID:   author.ID,
				Body:       gofakeit.Paragraph(1, 2, 12, " "),
				PostedAt:   time.Now(),
			}
			db.Create(&answer)
		}
	}

	log.WithField("users", len(users)).Info("seeding complete")
}
