package dbconnect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: "5432", Dbuser: "app", Dbpassword: "secret", Dbname: "orders"}
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=orders sslmode=disable TimeZone=UTC", cfg.DSN())

	cfg.Sslmode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
