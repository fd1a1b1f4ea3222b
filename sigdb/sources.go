package sigdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/signalworks/sigflow/pkg/secrets"
)

// SourcesStore reads the registered source databases. Passwords are
// encrypted at rest; reads decrypt.
type SourcesStore struct {
	pool  *pgxpool.Pool
	codec *secrets.Codec
}

const sourceColumns = `
	db_code, db_type, host, port, db_name, username, password_enc, created_at, updated_at`

func (s *SourcesStore) scanSource(row rowScanner) (*SourceDatabase, error) {
	var src SourceDatabase
	var encPassword string
	err := row.Scan(
		&src.Code, &src.Product, &src.Host, &src.Port, &src.Database,
		&src.Username, &encPassword, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	src.Password, err = s.codec.DecryptString(encPassword)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypting password of source %s", src.Code)
	}
	return &src, nil
}

// List returns every registered source database.
func (s *SourcesStore) List(ctx context.Context) ([]*SourceDatabase, error) {
	defer observe("sources_list", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceColumns+` FROM config.source_database ORDER BY db_code`)
	if err != nil {
		return nil, errors.Wrap(err, "listing source databases")
	}
	defer rows.Close()

	var sources []*SourceDatabase
	for rows.Next() {
		src, err := s.scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SourcesStore) Get(ctx context.Context, code string) (*SourceDatabase, error) {
	defer observe("sources_get", time.Now())

	src, err := s.scanSource(s.pool.QueryRow(ctx, `
		SELECT `+sourceColumns+` FROM config.source_database WHERE db_code = $1`,
		code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "source database %s", code)
	}
	return src, err
}

// Insert registers a source database, encrypting the password.
func (s *SourcesStore) Insert(ctx context.Context, src *SourceDatabase) error {
	defer observe("sources_insert", time.Now())

	encPassword, err := s.codec.EncryptString(src.Password)
	if err != nil {
		return errors.Wrap(err, "encrypting source password")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO config.source_database
			(db_code, db_type, host, port, db_name, username, password_enc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		src.Code, src.Product, src.Host, src.Port, src.Database, src.Username, encPassword)
	return errors.Wrapf(err, "inserting source database %s", src.Code)
}
