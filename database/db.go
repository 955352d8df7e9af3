package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/klaspay/klaspay/internal/cache"

	_ "github.com/lib/pq"

	"github.com/klaspay/klaspay/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil} // or Cache: newCache if cache is used
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "opening database connection")
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "pinging database")
	}
	err = createEnrollmentTable(db)
	if err != nil {
		return nil, err
	}
	err = createDedupTable(db)
	if err != nil {
		return nil, err
	}
	err = createPaymentTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createDedupTable creates the dedup ledger. The UNIQUE constraint on
// resource_id is the atomic gate: claims are insert-or-fail against it, never
// read-then-write.
func createDedupTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dedup_records (
			id SERIAL PRIMARY KEY,
			resource_id TEXT NOT NULL UNIQUE,
			notification_id TEXT,
			state TEXT NOT NULL CHECK (state IN ('CLAIMED', 'COMPLETED', 'FAILED')),
			reason TEXT,
			claim_count INT NOT NULL DEFAULT 1,
			claimed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating dedup_records table: %v", err)
	}
	return err
}

// createEnrollmentTable creates the enrollments table. UNIQUE(student_id,
// course_id) collapses double-submitted creations; payment_resource is the
// order id handed to the payment processor and is the dedup key notifications
// arrive under.
func createEnrollmentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS enrollments (
			id SERIAL PRIMARY KEY,
			enrollment_id TEXT NOT NULL UNIQUE,
			student_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			sessions BIGINT NOT NULL DEFAULT 1,
			price_cents BIGINT NOT NULL,
			discount_bp BIGINT NOT NULL DEFAULT 0,
			payment_status TEXT NOT NULL DEFAULT 'UNPAID',
			payment_resource TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB,
			UNIQUE (student_id, course_id)
		)
	`)
	if err != nil {
		log.Printf("Error creating enrollments table: %v", err)
	}
	return err
}

func createPaymentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payments (
			id SERIAL PRIMARY KEY,
			payment_id TEXT NOT NULL UNIQUE,
			resource_id TEXT NOT NULL UNIQUE,
			enrollment_id TEXT NOT NULL REFERENCES enrollments(enrollment_id),
			amount_cents BIGINT NOT NULL,
			status TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating payments table: %v", err)
	}
	return err
}
