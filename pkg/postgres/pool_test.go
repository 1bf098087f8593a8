package postgres

import (
	"net/url"
	"testing"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "lp", Password: "a b", Database: "learn", SSLMode: "require"}

	u, err := url.Parse(cfg.DSN())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "db:5433" || u.Path != "/learn" {
		t.Fatalf("unexpected dsn %s", u.String())
	}
	if pw, _ := u.User.Password(); pw != "a b" {
		t.Fatalf("password = %q", pw)
	}
	if u.Query().Get("sslmode") != "require" {
		t.Fatalf("sslmode = %q", u.Query().Get("sslmode"))
	}
}
