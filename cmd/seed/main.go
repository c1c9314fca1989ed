package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}
	if err := seedBlockedDates(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed blocked dates: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		location := gofakeit.City() + " Clinic, Room " + gofakeit.DigitN(3)

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, email, specialty, location, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, name, email, spec, location)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedSlots opens a week of 30-minute slots per doctor, 09:00-17:00.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding slots for %d doctors", len(doctorIDs))

	today := time.Now().UTC().Truncate(24 * time.Hour)

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for day := 1; day <= 7; day++ {
			dayStart := today.AddDate(0, 0, day).Add(9 * time.Hour)
			for s := 0; s < 16; s++ {
				start := dayStart.Add(time.Duration(s) * 30 * time.Minute)
				end := start.Add(30 * time.Minute)

				_, err := tx.Exec(ctx, `
					INSERT INTO time_slots (id, doctor_id, start_time, end_time, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, 'available', now(), now())
				`, uuid.New(), doctorID, start, end)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("slots seeded")
	return nil
}

// seedBlockedDates gives roughly a fifth of doctors one full-day block and
// one partial afternoon block in the coming week.
func seedBlockedDates(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Println("seeding blocked dates")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	reasons := []string{"Conference", "Vacation", "Training", "On call elsewhere"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, doctorID := range doctorIDs {
		if i%5 != 0 {
			continue
		}

		fullDay := today.AddDate(0, 0, gofakeit.Number(1, 7))
		reason := reasons[gofakeit.Number(0, len(reasons)-1)]
		_, err := tx.Exec(ctx, `
			INSERT INTO blocked_dates (id, doctor_id, day, full_day, start_time, end_time, reason, created_at)
			VALUES ($1, $2, $3, true, NULL, NULL, $4, now())
		`, uuid.New(), doctorID, fullDay, reason)
		if err != nil {
			return err
		}

		partialDay := fullDay.AddDate(0, 0, 1)
		start := partialDay.Add(13 * time.Hour)
		end := partialDay.Add(17 * time.Hour)
		_, err = tx.Exec(ctx, `
			INSERT INTO blocked_dates (id, doctor_id, day, full_day, start_time, end_time, reason, created_at)
			VALUES ($1, $2, $3, false, $4, $5, 'Rounds', now())
		`, uuid.New(), doctorID, partialDay, start, end)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("blocked dates seeded")
	return nil
}
