package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

// MaintenanceDB wraps one SQL Server instance's maintenance surface: the
// per-database control flags the quiescence gate and releaser read and
// write, the job-scheduler activity view, and the ingestion login.
type MaintenanceDB struct {
	db *sql.DB
}

type DbConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

func NewMaintenanceDB(config DbConfig) (*MaintenanceDB, error) {
	port := config.Port
	if port == 0 {
		port = 1433
	}

	dsn := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(config.User, config.Password),
		Host:   fmt.Sprintf("%s:%d", config.Host, port),
	}

	db, err := sql.Open("sqlserver", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error pinging database on %s: %v", config.Host, err)
	}

	return &MaintenanceDB{db: db}, nil
}

func (m *MaintenanceDB) Close() error {
	return m.db.Close()
}

// quoteDatabase brackets a database name for three-part queries. Database
// names come from the operator's config, not remote input, but a stray
// bracket would still break the statement.
func quoteDatabase(database string) string {
	return "[" + strings.ReplaceAll(database, "]", "]]") + "]"
}

func (m *MaintenanceDB) controlFlag(ctx context.Context, database, name string) (string, error) {
	query := fmt.Sprintf(`
        SELECT Value FROM %s.dbo.ProcessControl
        WHERE Name = @name
    `, quoteDatabase(database))

	var value sql.NullString
	err := m.db.QueryRowContext(ctx, query, sql.Named("name", name)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error reading %s flag on %s: %v", name, database, err)
	}

	return strings.TrimSpace(value.String), nil
}

func (m *MaintenanceDB) setControlFlag(ctx context.Context, database, name, value string) error {
	query := fmt.Sprintf(`
        MERGE %s.dbo.ProcessControl AS target
        USING (SELECT @name AS Name) AS source
        ON target.Name = source.Name
        WHEN MATCHED THEN UPDATE SET Value = @value, UpdatedAt = SYSUTCDATETIME()
        WHEN NOT MATCHED THEN INSERT (Name, Value, UpdatedAt) VALUES (@name, @value, SYSUTCDATETIME());
    `, quoteDatabase(database))

	_, err := m.db.ExecContext(ctx, query, sql.Named("name", name), sql.Named("value", value))
	if err != nil {
		return fmt.Errorf("error writing %s flag on %s: %v", name, database, err)
	}
	return nil
}

// ImportInProgress reports whether the data-import flag is set for a
// database. An absent row reads as clear.
func (m *MaintenanceDB) ImportInProgress(ctx context.Context, database string) (bool, error) {
	value, err := m.controlFlag(ctx, database, "ImportInProgress")
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// RecurringJobLocked reports whether the recurring batch job currently
// holds its database-level lock.
func (m *MaintenanceDB) RecurringJobLocked(ctx context.Context, database string) (bool, error) {
	value, err := m.controlFlag(ctx, database, "RecurringJobLock")
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// SetDeploymentFlag marks a database as under maintenance. The value
// carries the run ID so a flag left behind is attributable.
func (m *MaintenanceDB) SetDeploymentFlag(ctx context.Context, database, value string) error {
	return m.setControlFlag(ctx, database, "DeploymentInProgress", value)
}

// DeploymentFlag returns the current flag value, empty when clear.
func (m *MaintenanceDB) DeploymentFlag(ctx context.Context, database string) (string, error) {
	return m.controlFlag(ctx, database, "DeploymentInProgress")
}

// ClearDeploymentFlag resets the flag. Clearing an already-clear flag is a
// no-op, which is what makes the releaser idempotent.
func (m *MaintenanceDB) ClearDeploymentFlag(ctx context.Context, database string) error {
	return m.setControlFlag(ctx, database, "DeploymentInProgress", "")
}

// ActiveSchedulerJobs counts job-scheduler executions still running on this
// instance. The reboot coordinator waits for this to reach zero.
func (m *MaintenanceDB) ActiveSchedulerJobs(ctx context.Context) (int, error) {
	query := `
        SELECT COUNT(*) FROM msdb.dbo.sysjobactivity
        WHERE start_execution_date IS NOT NULL
          AND stop_execution_date IS NULL
    `

	var count int
	if err := m.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting scheduler jobs: %v", err)
	}
	return count, nil
}

// LoginExists checks the server principal catalog before an ALTER LOGIN so
// a misconfigured login name surfaces as a readable error.
func (m *MaintenanceDB) LoginExists(ctx context.Context, login string) (bool, error) {
	query := `SELECT COUNT(*) FROM sys.server_principals WHERE name = @login`

	var count int
	if err := m.db.QueryRowContext(ctx, query, sql.Named("login", login)).Scan(&count); err != nil {
		return false, fmt.Errorf("error checking login %s: %v", login, err)
	}
	return count > 0, nil
}

func (m *MaintenanceDB) setLoginEnabled(ctx context.Context, login string, enabled bool) error {
	exists, err := m.LoginExists(ctx, login)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("login %s does not exist on this server", login)
	}

	action := "DISABLE"
	if enabled {
		action = "ENABLE"
	}

	query := fmt.Sprintf("ALTER LOGIN [%s] %s", strings.ReplaceAll(login, "]", "]]"), action)
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("error altering login %s: %v", login, err)
	}
	return nil
}

// DisableIngestionLogin locks automated loaders out for the maintenance
// window; server-wide, so it runs only after every database unit settles.
func (m *MaintenanceDB) DisableIngestionLogin(ctx context.Context, login string) error {
	return m.setLoginEnabled(ctx, login, false)
}

// EnableIngestionLogin restores loader access after release.
func (m *MaintenanceDB) EnableIngestionLogin(ctx context.Context, login string) error {
	return m.setLoginEnabled(ctx, login, true)
}
