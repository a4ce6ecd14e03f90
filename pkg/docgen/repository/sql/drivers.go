package sql

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	RegisterDialector("sqlite", func(dsn string) gorm.Dialector { return sqlite.Open(dsn) })
	RegisterDialector("mysql", func(dsn string) gorm.Dialector { return mysql.Open(dsn) })
	RegisterDialector("postgres", func(dsn string) gorm.Dialector { return postgres.Open(dsn) })
}
