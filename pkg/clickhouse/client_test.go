package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{
		Host:         "ch",
		Port:         9000,
		Database:     "linepulse",
		User:         "app",
		Password:     "p@ss",
		DialTimeout:  5 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	}

	u, err := url.Parse(buildDSN(cfg))
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch:9000" || u.Path != "/linepulse" {
		t.Fatalf("unexpected dsn parts: %s", u.String())
	}
	if pw, _ := u.User.Password(); pw != "p@ss" {
		t.Fatalf("password not preserved: %q", pw)
	}
	q := u.Query()
	if q.Get("dial_timeout") != "5s" || q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Has("read_timeout") {
		t.Fatalf("zero read timeout must be omitted")
	}
}
