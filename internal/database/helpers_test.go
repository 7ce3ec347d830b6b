package database

import "os"

// testConfig points live tests at a local postgres unless TEST_DB_* overrides it
func testConfig() Config {
	return Config{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     5432,
		Database: getEnv("TEST_DB_NAME", "roomd_test"),
		User:     getEnv("TEST_DB_USER", "roomd"),
		Password: getEnv("TEST_DB_PASSWORD", "roomd"),
		SSLMode:  "disable",
	}
}

// testDSN returns the DSN used by live database tests
func testDSN() string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return testConfig().DSN()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
