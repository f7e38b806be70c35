package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// convertURIToDSN accepts either a mysql:// URI or a driver DSN and returns
// the DSN form the driver expects.
func convertURIToDSN(connectionString string) (string, error) {
	// Anything not starting with mysql:// is assumed to already be a DSN.
	if !strings.HasPrefix(connectionString, "mysql://") {
		return connectionString, nil
	}

	u, err := url.Parse(connectionString)
	if err != nil {
		return "", fmt.Errorf("failed to parse URI: %w", err)
	}

	if u.Scheme != "mysql" {
		return "", fmt.Errorf("unsupported scheme: %s (expected mysql)", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("host is required")
	}

	var userInfo string
	if u.User != nil {
		username := u.User.Username()
		password, _ := u.User.Password()
		if password != "" {
			userInfo = username + ":" + password
		} else {
			userInfo = username
		}
	}

	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		database = "test"
	}

	// user:password@tcp(host:port)/database
	dsn := fmt.Sprintf("%s@tcp(%s)/%s", userInfo, u.Host, database)

	defaultParams := url.Values{
		"parseTime": []string{"true"},
		"charset":   []string{"utf8mb4"},
		"collation": []string{"utf8mb4_unicode_ci"},
	}

	// Explicit query parameters win over the defaults.
	existingParams := u.Query()
	for key, values := range defaultParams {
		if !existingParams.Has(key) {
			existingParams[key] = values
		}
	}

	if len(existingParams) > 0 {
		dsn += "?" + existingParams.Encode()
	}

	return dsn, nil
}

// Connect opens the MySQL connection pool and verifies it with a ping.
func Connect(connectionString string) (*sql.DB, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dsn, err := convertURIToDSN(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to process connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	return db, nil
}
