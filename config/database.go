package config

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	// pure-go sqlite driver registered as "sqlite"
	_ "modernc.org/sqlite"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// SetDB swaps the global handle. Tests and ops tooling only.
func SetDB(d *gorm.DB) {
	db = d
}

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for DB.
	// Cloud Run requires the container to start listening on $PORT quickly.
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
//
// DB_DRIVER=sqlite opens SQLITE_PATH instead of MySQL (local dev, demos).
func ConnectDatabaseWithRetry() {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_DRIVER")), "sqlite") {
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "card_audit.db"
		}
		d, err := OpenSQLite(path)
		if err != nil {
			log.Fatalf("failed to open sqlite database %s: %v", path, err)
		}
		db = d
		log.Printf("connected to sqlite database (path=%s)", path)
		return
	}

	var attempt int
	for {
		attempt++
		d, err := openMySQL(mysqlDSN())
		if err == nil {
			db = d
			log.Printf("connected to database (attempt=%d)", attempt)
			return
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

func mysqlDSN() string {
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")

	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, dbPort)

	// Cloud SQL: DB_HOST=/cloudsql/<CONNECTION_NAME> connects over the proxy's unix socket.
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true&loc=UTC",
		dbUser,
		dbPassword,
		network,
		address,
		dbName,
	)
}

func openMySQL(dsn string) (*gorm.DB, error) {
	d, err := gorm.Open(mysql.Open(dsn), initConfig())
	if err != nil {
		return nil, err
	}
	// Pool overrides:
	// - DB_MAX_OPEN_CONNS (default 50)
	// - DB_MAX_IDLE_CONNS (default 25)
	// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
	// - DB_CONN_MAX_IDLE_TIME_SECONDS (default 60)
	if sqlDB, derr := d.DB(); derr == nil && sqlDB != nil {
		maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50)
		maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25)
		connMaxLife := time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
		connMaxIdle := time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second

		if maxOpen > 0 {
			sqlDB.SetMaxOpenConns(maxOpen)
		}
		if maxIdle >= 0 {
			sqlDB.SetMaxIdleConns(maxIdle)
		}
		if connMaxLife > 0 {
			sqlDB.SetConnMaxLifetime(connMaxLife)
		}
		if connMaxIdle > 0 {
			sqlDB.SetConnMaxIdleTime(connMaxIdle)
		}
	}
	installPlugins(d)
	return d, nil
}

// OpenSQLite opens (or creates) a SQLite database file through the pure-go driver.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	d, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, initConfig())
	if err != nil {
		return nil, err
	}
	installPlugins(d)
	return d, nil
}

func installPlugins(d *gorm.DB) {
	if pluginErr := d.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	if pluginErr := d.Use(NewOwnerGuardPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install owner guard plugin: %v", pluginErr)
	}
}

// IsMySQL reports whether d talks to MySQL. Row locks and isolation levels only apply there.
func IsMySQL(d *gorm.DB) bool {
	return d != nil && d.Dialector != nil && d.Dialector.Name() == "mysql"
}

// SnapshotTxOptions returns the options for transactions that must read one
// consistent inventory snapshot. The server default is READ COMMITTED, so
// MySQL gets REPEATABLE READ explicitly. SQLite transactions are serializable already.
func SnapshotTxOptions(d *gorm.DB) *sql.TxOptions {
	if IsMySQL(d) {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	}
	return &sql.TxOptions{}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// GORM_LOG_LEVEL=info prints every statement (local debugging).
func initLog() logger.Interface {
	level := logger.Error
	if strings.EqualFold(os.Getenv("GORM_LOG_LEVEL"), "info") {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  level,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
