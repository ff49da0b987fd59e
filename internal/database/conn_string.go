package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/regpilot-realtime/internal/config"
)

// ApplicationName is reported to the server as application_name.
const ApplicationName = "regpilot-realtime"

// BuildConnString builds a PostgreSQL connection URL from config.
// Credentials are escaped so passwords may contain URL metacharacters.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}
