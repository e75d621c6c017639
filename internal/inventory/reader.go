// Package inventory reads servers and the compliance catalog from the
// inventory database. Both are reference data owned by another system.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

const queryTimeout = 10 * time.Second

// Reader queries the servers and kisa_items tables. The driver is either
// "mysql" for the legacy inventory or "pgx" when the tables live next to the
// facts.
type Reader struct {
	DB *sqlx.DB
}

func Open(driver, dsn string) (*Reader, error) {
	switch driver {
	case "mysql", "pgx":
	default:
		return nil, fmt.Errorf("unsupported inventory driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	return &Reader{DB: db}, nil
}

func (r *Reader) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.DB.PingContext(ctx)
}

func (r *Reader) Close() error {
	return r.DB.Close()
}

type serverRow struct {
	ID        string         `db:"server_id"`
	Tenant    string         `db:"company"`
	Hostname  string         `db:"hostname"`
	IPAddress string         `db:"ip_address"`
	OSType    string         `db:"os_type"`
	DBType    sql.NullString `db:"db_type"`
	Active    bool           `db:"is_active"`
}

func (s serverRow) model() model.Server {
	return model.Server{
		ID:        s.ID,
		Tenant:    s.Tenant,
		Hostname:  s.Hostname,
		IPAddress: s.IPAddress,
		OSType:    s.OSType,
		DBType:    s.DBType.String,
		Active:    s.Active,
	}
}

type itemRow struct {
	Code     string `db:"item_code"`
	Category string `db:"category"`
	Title    string `db:"title"`
	Severity string `db:"severity"`
	AutoFix  bool   `db:"auto_fix"`
}

func (i itemRow) model() model.ComplianceItem {
	return model.ComplianceItem{
		Code:     i.Code,
		Category: i.Category,
		Title:    i.Title,
		Severity: model.ParseSeverity(i.Severity),
		AutoFix:  i.AutoFix,
	}
}

const serverColumns = `server_id, company, hostname, ip_address, os_type, db_type, is_active`
const itemColumns = `item_code, category, title, severity, auto_fix`

// ServersByID returns the known servers among ids, keyed by id. Unknown ids
// are absent from the map.
func (r *Reader) ServersByID(ctx context.Context, ids []string) (map[string]model.Server, error) {
	out := make(map[string]model.Server, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+serverColumns+` FROM servers WHERE server_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var rows []serverRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select servers: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = row.model()
	}
	return out, nil
}

// ServersByTenant lists the active servers of a tenant ordered by id. An empty
// tenant lists every active server.
func (r *Reader) ServersByTenant(ctx context.Context, tenant string) ([]model.Server, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	query := `SELECT ` + serverColumns + ` FROM servers WHERE is_active = ?`
	args := []any{true}
	if tenant != "" {
		query += ` AND company = ?`
		args = append(args, tenant)
	}
	query += ` ORDER BY server_id`
	var rows []serverRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select servers: %w", err)
	}
	out := make([]model.Server, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r *Reader) Items(ctx context.Context) ([]model.ComplianceItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var rows []itemRow
	if err := r.DB.SelectContext(ctx, &rows, `SELECT `+itemColumns+` FROM kisa_items ORDER BY item_code`); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	out := make([]model.ComplianceItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r *Reader) Item(ctx context.Context, code string) (model.ComplianceItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var row itemRow
	err := r.DB.GetContext(ctx, &row, r.DB.Rebind(`SELECT `+itemColumns+` FROM kisa_items WHERE item_code = ?`), code)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ComplianceItem{}, apperr.NotFound("item %q", code)
	}
	if err != nil {
		return model.ComplianceItem{}, fmt.Errorf("select item: %w", err)
	}
	return row.model(), nil
}

// ServerIDs returns every registered server id, active or not.
func (r *Reader) ServerIDs(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var ids []string
	if err := r.DB.SelectContext(ctx, &ids, `SELECT server_id FROM servers`); err != nil {
		return nil, fmt.Errorf("select server ids: %w", err)
	}
	return toSet(ids), nil
}

func (r *Reader) ItemCodes(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var codes []string
	if err := r.DB.SelectContext(ctx, &codes, `SELECT item_code FROM kisa_items`); err != nil {
		return nil, fmt.Errorf("select item codes: %w", err)
	}
	return toSet(codes), nil
}

func toSet(vs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		out[v] = struct{}{}
	}
	return out
}
