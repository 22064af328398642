/*
 *    NCShark core library for reconstructing encrypted game sessions
 *
 *    Copyright (C) 2014, 2015  David Stainton
 *
 *    This program is free software: you can redistribute it and/or modify
 *    it under the terms of the GNU General Public License as published by
 *    the Free Software Foundation, either version 3 of the License, or
 *    (at your option) any later version.
 *
 *    This program is distributed in the hope that it will be useful,
 *    but WITHOUT ANY WARRANTY; without even the implied warranty of
 *    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *    GNU General Public License for more details.
 *
 *    You should have received a copy of the GNU General Public License
 *    along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package archive stores captured sessions in PostgreSQL.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/op/go-logging"
	"github.com/pressly/goose/v3"

	"github.com/ncshark/ncshark/archive/migrations"
	"github.com/ncshark/ncshark/capfile"
)

var log = logging.MustGetLogger("archive")

var ErrNotFound = errors.New("archived session not found")

// Summary describes an archived session without its messages.
type Summary struct {
	ID           int64
	Header       capfile.Header
	MessageCount int
	FirstSeen    time.Time
	ArchivedAt   time.Time
}

func (s Summary) String() string {
	return fmt.Sprintf("%d: %s:%d -> %s:%d locale %d build %d, %d messages, first seen %s",
		s.ID, s.Header.LocalEndpoint, s.Header.LocalPort, s.Header.RemoteEndpoint, s.Header.RemotePort,
		s.Header.Locale, s.Header.Build, s.MessageCount, s.FirstSeen.Format(time.RFC3339))
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate brings the schema at dsn up to date.
func Migrate(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// SaveSession archives a session and returns its id.
func (s *Store) SaveSession(ctx context.Context, header capfile.Header, records []capfile.Record) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Errorf("rollback failed: %s", err)
		}
	}()

	var firstSeen *time.Time
	if len(records) > 0 {
		firstSeen = &records[0].Timestamp
	}
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO sessions (version, local_endpoint, local_port, remote_endpoint, remote_port,
		                       locale, build, patch_location, message_count, first_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		int32(header.Version), header.LocalEndpoint, int32(header.LocalPort),
		header.RemoteEndpoint, int32(header.RemotePort), int16(header.Locale),
		int32(header.Build), header.PatchLocation, len(records), firstSeen,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}

	if len(records) > 0 {
		rows := make([][]any, 0, len(records))
		for i, r := range records {
			payload := r.Payload
			if payload == nil {
				payload = []byte{}
			}
			rows = append(rows, []any{id, int32(i), capfile.TimeToTicks(r.Timestamp), r.Outbound,
				int32(r.Opcode), payload, int64(r.PreDecodePosition), int64(r.PostDecodePosition)})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"messages"},
			[]string{"session_id", "idx", "ticks", "outbound", "opcode", "payload", "pre_decode", "post_decode"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting messages of session %d: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit session %d: %w", id, err)
	}
	log.Debugf("archived session %d with %d messages", id, len(records))
	return id, nil
}

// LoadSession returns an archived session.
func (s *Store) LoadSession(ctx context.Context, id int64) (capfile.Header, []capfile.Record, error) {
	summary, err := s.summary(ctx, id)
	if err != nil {
		return capfile.Header{}, nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ticks, outbound, opcode, payload, pre_decode, post_decode
		 FROM messages WHERE session_id = $1 ORDER BY idx`, id)
	if err != nil {
		return capfile.Header{}, nil, fmt.Errorf("querying messages of session %d: %w", id, err)
	}
	defer rows.Close()

	records := make([]capfile.Record, 0, summary.MessageCount)
	for rows.Next() {
		var (
			ticks     int64
			outbound  bool
			opcode    int32
			payload   []byte
			pre, post int64
		)
		if err := rows.Scan(&ticks, &outbound, &opcode, &payload, &pre, &post); err != nil {
			return capfile.Header{}, nil, fmt.Errorf("scanning message of session %d: %w", id, err)
		}
		records = append(records, capfile.Record{
			Timestamp:          capfile.TicksToTime(ticks),
			Outbound:           outbound,
			Opcode:             uint16(opcode),
			Payload:            payload,
			PreDecodePosition:  uint32(pre),
			PostDecodePosition: uint32(post),
		})
	}
	if err := rows.Err(); err != nil {
		return capfile.Header{}, nil, fmt.Errorf("reading messages of session %d: %w", id, err)
	}
	return summary.Header, records, nil
}

const summaryColumns = `id, version, local_endpoint, local_port, remote_endpoint, remote_port,
	locale, build, patch_location, message_count, first_seen, archived_at`

func scanSummary(row pgx.Row) (Summary, error) {
	var (
		summary                        Summary
		version, localPort, remotePort int32
		build                          int32
		locale                         int16
		firstSeen                      *time.Time
	)
	err := row.Scan(&summary.ID, &version, &summary.Header.LocalEndpoint, &localPort,
		&summary.Header.RemoteEndpoint, &remotePort, &locale, &build,
		&summary.Header.PatchLocation, &summary.MessageCount, &firstSeen, &summary.ArchivedAt)
	if err != nil {
		return Summary{}, err
	}
	summary.Header.Version = uint16(version)
	summary.Header.LocalPort = uint16(localPort)
	summary.Header.RemotePort = uint16(remotePort)
	summary.Header.Locale = byte(locale)
	summary.Header.Build = uint16(build)
	if firstSeen != nil {
		summary.FirstSeen = firstSeen.UTC()
	}
	return summary, nil
}

func (s *Store) summary(ctx context.Context, id int64) (Summary, error) {
	summary, err := scanSummary(s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("querying session %d: %w", id, err)
	}
	return summary, nil
}

// ListSessions returns every archived session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+summaryColumns+` FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// DeleteSession removes an archived session and its messages.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return nil
}
