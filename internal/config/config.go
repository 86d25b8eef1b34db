package config

import "os"

type Config struct {
	Addr      string
	DBPath    string
	SecretKey string
}

func Default() Config {
	return Config{
		Addr:   envOr("CK_ADDR", "127.0.0.1:8080"),
		DBPath: envOr("CK_DB_PATH", "coursekeep.db"),
		// Clé de chiffrement des secrets au repos. Une valeur vide
		// désactive le chiffrement (dev uniquement).
		SecretKey: os.Getenv("CK_SECRET_KEY"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
