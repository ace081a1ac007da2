package dbadmin

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type dialect struct {
	name   string
	driver string

	userExists     string
	databaseExists string

	createUser     func(name string, password []byte) (string, error)
	createDatabase func(name string) (string, error)
	grant          func(g Grant) (string, error)
}

// mysqlHost is the account host for MySQL users and grants. The databases
// are administered and used from the machine being provisioned.
const mysqlHost = "localhost"

var dialects = map[string]dialect{
	MySQL: {
		name:           MySQL,
		driver:         "mysql",
		userExists:     "SELECT COUNT(*) FROM mysql.user WHERE user = ? AND host = '" + mysqlHost + "'",
		databaseExists: "SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?",
		createUser: func(name string, password []byte) (string, error) {
			if err := checkName(name); err != nil {
				return "", err
			}
			return fmt.Sprintf("CREATE USER %s@%s IDENTIFIED BY %s",
				mysqlString(name), mysqlString(mysqlHost), mysqlString(string(password))), nil
		},
		createDatabase: func(name string) (string, error) {
			if err := checkName(name); err != nil {
				return "", err
			}
			return "CREATE DATABASE " + backtick(name), nil
		},
		grant: func(g Grant) (string, error) {
			if err := checkName(g.User); err != nil {
				return "", err
			}
			privs, err := privileges(g.Privileges)
			if err != nil {
				return "", err
			}
			target := "*.*"
			if g.Database != "" {
				if err := checkName(g.Database); err != nil {
					return "", err
				}
				target = backtick(g.Database) + ".*"
			}
			return fmt.Sprintf("GRANT %s ON %s TO %s@%s", privs, target, mysqlString(g.User), mysqlString(mysqlHost)), nil
		},
	},
	Postgres: {
		name:           Postgres,
		driver:         "pgx",
		userExists:     "SELECT COUNT(*) FROM pg_roles WHERE rolname = $1",
		databaseExists: "SELECT COUNT(*) FROM pg_database WHERE datname = $1",
		createUser: func(name string, password []byte) (string, error) {
			if err := checkName(name); err != nil {
				return "", err
			}
			return fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s",
				doubleQuote(name), pgString(string(password))), nil
		},
		createDatabase: func(name string) (string, error) {
			if err := checkName(name); err != nil {
				return "", err
			}
			return "CREATE DATABASE " + doubleQuote(name), nil
		},
		grant: func(g Grant) (string, error) {
			if err := checkName(g.User); err != nil {
				return "", err
			}
			if g.Database == "" {
				return "", errors.New("postgres grants require a database")
			}
			if err := checkName(g.Database); err != nil {
				return "", err
			}
			privs, err := privileges(g.Privileges)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("GRANT %s ON DATABASE %s TO %s", privs, doubleQuote(g.Database), doubleQuote(g.User)), nil
		},
	},
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$-]{0,62}$`)

func checkName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid database identifier %q", name)
	}
	return nil
}

var knownPrivileges = map[string]bool{
	"ALL": true, "ALL PRIVILEGES": true, "SELECT": true, "INSERT": true,
	"UPDATE": true, "DELETE": true, "CREATE": true, "DROP": true,
	"ALTER": true, "INDEX": true, "REFERENCES": true, "TRIGGER": true,
	"CONNECT": true, "TEMPORARY": true, "TEMP": true, "EXECUTE": true,
	"USAGE": true, "LOCK TABLES": true, "CREATE VIEW": true, "SHOW VIEW": true,
}

func privileges(p []string) (string, error) {
	if len(p) == 0 {
		return "ALL PRIVILEGES", nil
	}
	out := make([]string, 0, len(p))
	for _, priv := range p {
		up := strings.ToUpper(strings.TrimSpace(priv))
		if !knownPrivileges[up] {
			return "", fmt.Errorf("unknown privilege %q", priv)
		}
		if up == "ALL" {
			up = "ALL PRIVILEGES"
		}
		out = append(out, up)
	}
	return strings.Join(out, ", "), nil
}

func backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// mysqlString quotes s as a MySQL string literal under the default
// sql_mode, where backslash is an escape character.
func mysqlString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\x00", `\0`, "\n", `\n`, "\r", `\r`, "\x1a", `\Z`)
	return "'" + r.Replace(s) + "'"
}

// pgString quotes s as a PostgreSQL string literal with
// standard_conforming_strings on.
func pgString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
