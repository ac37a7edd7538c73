package config

import (
	"fmt"
	"os"
)

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

var API_ENV = os.Getenv("API_ENV")

// MPBaseURL can be overridden so tests can point the provider client at a local server.
func MPBaseURL() string {
	if v := os.Getenv("MP_BASE_URL"); v != "" {
		return v
	}
	return "https://api.mercadopago.com"
}

// PlatformAccessToken is the marketplace-level credential used for the
// platform's own preapprovals, as opposed to per-tenant OAuth tokens.
func PlatformAccessToken() string {
	return os.Getenv("MP_PLATFORM_ACCESS_TOKEN")
}

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"
