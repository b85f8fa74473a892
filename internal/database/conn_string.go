package database

import (
	"fmt"
	"net/url"

	"github.com/quantfold/polystream/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config. The
// sslmode parameter is emitted only when set; config defaults populate it
// for enabled databases.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	conn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
	if cfg.SSLMode != "" {
		conn += "?sslmode=" + cfg.SSLMode
	}
	return conn
}
