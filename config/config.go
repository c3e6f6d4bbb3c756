package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultJWTSecret = "change-me-in-production"

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

type Config struct {
	Port              string
	StoreDriver       string
	MongoURI          string
	DBName            string
	MongoTransactions bool
	JWTSecret         string
	JWTTTL            time.Duration
	SwapTTL           time.Duration
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretKey       string
	MaxUploadMB       int64
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	MailFrom          string
	AdminEmail        string
	AdminPassword     string
	// CORSOrigins empty means any origin, without credentials.
	CORSOrigins []string
}

func Load() (*Config, error) {
	_ = os.Setenv("AWS_REGION", getEnv("AWS_REGION", "us-east-1"))

	driver := strings.ToLower(getEnv("STORE_DRIVER", DriverMongo))
	if driver != DriverMongo && driver != DriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMongo, DriverMemory, driver)
	}
	transactions, err := getBool("MONGODB_TRANSACTIONS", false)
	if err != nil {
		return nil, err
	}
	smtpPort, err := getInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	jwtHours, err := getInt("JWT_TTL_HOURS", 24*7)
	if err != nil {
		return nil, err
	}
	swapHours, err := getInt("SWAP_TTL_HOURS", 24*7)
	if err != nil {
		return nil, err
	}
	maxMB, err := getInt("MAX_UPLOAD_MB", 5)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		StoreDriver:       driver,
		MongoURI:          getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:            getEnv("MONGODB_DB", "bookswap"),
		MongoTransactions: transactions,
		JWTSecret:         getEnv("JWT_SECRET", defaultJWTSecret),
		JWTTTL:            time.Duration(jwtHours) * time.Hour,
		SwapTTL:           time.Duration(swapHours) * time.Hour,
		S3Bucket:          getEnv("AWS_S3_BUCKET", ""),
		S3Region:          getEnv("AWS_REGION", "us-east-1"),
		S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:       getEnv("AWS_SECRET_ACCESS_KEY", ""),
		MaxUploadMB:       int64(maxMB),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          smtpPort,
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		MailFrom:          getEnv("MAIL_FROM", "no-reply@bookswap.local"),
		AdminEmail:        strings.ToLower(getEnv("ADMIN_EMAIL", "")),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		CORSOrigins:       getList("CORS_ORIGINS"),
	}, nil
}

// SMTPEnabled reports whether notifications go out over SMTP rather than to the log.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// getList splits a comma-separated value, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// RequiredEnvVars must be set when the mongo driver is used.
var RequiredEnvVars = []string{
	"MONGODB_URI",
	"MONGODB_DB",
	"JWT_SECRET",
}

// OptionalEnvVars are logged at startup so you can confirm they are loaded when set.
var OptionalEnvVars = []string{
	"PORT",
	"STORE_DRIVER",
	"MONGODB_TRANSACTIONS",
	"JWT_TTL_HOURS",
	"SWAP_TTL_HOURS",
	"AWS_S3_BUCKET",
	"AWS_REGION",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"MAX_UPLOAD_MB",
	"SMTP_HOST",
	"SMTP_PORT",
	"SMTP_USERNAME",
	"SMTP_PASSWORD",
	"MAIL_FROM",
	"ADMIN_EMAIL",
	"ADMIN_PASSWORD",
	"CORS_ORIGINS",
}

var secretEnvVars = map[string]bool{
	"JWT_SECRET":            true,
	"AWS_ACCESS_KEY_ID":     true,
	"AWS_SECRET_ACCESS_KEY": true,
	"SMTP_PASSWORD":         true,
	"ADMIN_PASSWORD":        true,
}

// CheckEnv returns the required vars that are missing for the given driver and
// an error for an unsafe JWT secret.
func CheckEnv(driver string) (missing []string, err error) {
	if driver == DriverMongo {
		for _, key := range RequiredEnvVars {
			if strings.TrimSpace(os.Getenv(key)) == "" {
				missing = append(missing, key)
			}
		}
		if os.Getenv("JWT_SECRET") == defaultJWTSecret {
			return missing, fmt.Errorf("JWT_SECRET must be set to a strong secret (not the default %s)", defaultJWTSecret)
		}
	}
	return missing, nil
}

// ValidateEnv logs which env vars are loaded (never secret values) and exits if required ones are missing.
func ValidateEnv(driver string) {
	missing, err := CheckEnv(driver)
	if len(missing) > 0 {
		log.Fatalf("missing required env: %s (set these in .env or environment)", strings.Join(missing, ", "))
	}
	if err != nil {
		log.Fatal(err)
	}
	for _, key := range append(append([]string{}, RequiredEnvVars...), OptionalEnvVars...) {
		v := strings.TrimSpace(os.Getenv(key))
		switch {
		case v == "":
			log.Printf("env %s not set", key)
		case secretEnvVars[key]:
			log.Printf("env %s loaded", key)
		default:
			log.Printf("env %s = %s", key, v)
		}
	}
	log.Println("env check complete")
}
