package dbadmin

import (
	"strings"
	"testing"
)

func TestMySQLStatements(t *testing.T) {
	d := dialects[MySQL]
	tests := []struct {
		name string
		got  func() (string, error)
		want string
	}{
		{"create user", func() (string, error) { return d.createUser("vagrant", []byte("vagrant")) },
			`CREATE USER 'vagrant'@'localhost' IDENTIFIED BY 'vagrant'`},
		{"password quoting", func() (string, error) { return d.createUser("vagrant", []byte(`it's\`)) },
			`CREATE USER 'vagrant'@'localhost' IDENTIFIED BY 'it\'s\\'`},
		{"create database", func() (string, error) { return d.createDatabase("gitlabhq_production") },
			"CREATE DATABASE `gitlabhq_production`"},
		{"grant all databases", func() (string, error) { return d.grant(Grant{User: "vagrant"}) },
			`GRANT ALL PRIVILEGES ON *.* TO 'vagrant'@'localhost'`},
		{"grant one database", func() (string, error) {
			return d.grant(Grant{User: "vagrant", Database: "gitlabhq_test", Privileges: []string{"select", "insert"}})
		}, "GRANT SELECT, INSERT ON `gitlabhq_test`.* TO 'vagrant'@'localhost'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.got()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestMySQLUserExistsMatchesAccountHost(t *testing.T) {
	if q := dialects[MySQL].userExists; !strings.Contains(q, "host = 'localhost'") {
		t.Errorf("userExists = %s", q)
	}
}

func TestPostgresStatements(t *testing.T) {
	d := dialects[Postgres]

	got, err := d.createUser("vagrant", []byte("o'neil"))
	if err != nil {
		t.Fatal(err)
	}
	if want := `CREATE ROLE "vagrant" WITH LOGIN PASSWORD 'o''neil'`; got != want {
		t.Errorf("createUser = %s", got)
	}

	got, err = d.grant(Grant{User: "vagrant", Database: "gitlabhq_development", Privileges: []string{"ALL"}})
	if err != nil {
		t.Fatal(err)
	}
	if want := `GRANT ALL PRIVILEGES ON DATABASE "gitlabhq_development" TO "vagrant"`; got != want {
		t.Errorf("grant = %s", got)
	}

	if _, err := d.grant(Grant{User: "vagrant"}); err == nil {
		t.Error("postgres grant without database should fail")
	}
}

func TestRejectsUnsafeInput(t *testing.T) {
	d := dialects[MySQL]
	if _, err := d.createDatabase("x; DROP DATABASE mysql"); err == nil {
		t.Error("expected identifier rejection")
	}
	if _, err := d.grant(Grant{User: "u", Privileges: []string{"ALL ON *.* TO evil"}}); err == nil {
		t.Error("expected privilege rejection")
	}
	if _, err := d.createUser("", nil); err == nil {
		t.Error("expected empty name rejection")
	}
}

func TestPoolFor(t *testing.T) {
	p := NewPool(func(key string) string {
		if key == EnvMySQLDSN {
			return "root:secret@tcp(127.0.0.1:3306)/"
		}
		return ""
	})
	defer p.Close()

	a, err := p.For(MySQL)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.For(MySQL)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("For should reuse the connection for an engine")
	}

	if _, err := p.For(Postgres); err == nil || !strings.Contains(err.Error(), "no connection string") {
		t.Errorf("For(postgres) err = %v", err)
	}
	if _, err := p.For("oracle"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("For(oracle) err = %v", err)
	}
}
