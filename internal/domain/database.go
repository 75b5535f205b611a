package domain

// DatabaseDriver represents the type of destination database engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// Environment selects one of the configured destinations.
type Environment string

const (
	EnvironmentLocal Environment = "local"
	EnvironmentCloud Environment = "cloud"
)

// DatabaseConnection holds the parameters for connecting to a destination.
// The password is resolved separately through the secret store.
type DatabaseConnection struct {
	Driver   DatabaseDriver `json:"driver" yaml:"driver"`
	Host     string         `json:"host" yaml:"host"` // hostname or file path (sqlite)
	Port     int            `json:"port" yaml:"port"` // 0 for sqlite
	Database string         `json:"database" yaml:"database"`
	Username string         `json:"username" yaml:"username"`
	Password string         `json:"-" yaml:"password"`
	SSLMode  string         `json:"sslMode" yaml:"ssl_mode"`
}
