package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rsql"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

// RunStore is a profilesync.RunStore backed by a SQL table. Queries only use portable syntax so that the same store
// runs on MySQL and SQLite.
type RunStore struct {
	writer *sql.DB
	reader *sql.DB
	clock  clock.Clock

	table        string
	selectPrefix string

	// events is optional. When set, every status change inserts a reflex event in the same transaction.
	events *rsql.EventsTable
}

type Option func(s *RunStore)

// WithEvents makes the store insert a reflex event for every status change of a run. The event's foreign id is the
// run id and its type is the new status.
func WithEvents(table *rsql.EventsTable) Option {
	return func(s *RunStore) {
		s.events = table
	}
}

func WithClock(clock clock.Clock) Option {
	return func(s *RunStore) {
		s.clock = clock
	}
}

func NewRunStore(writer, reader *sql.DB, tableName string, opts ...Option) *RunStore {
	s := &RunStore{
		writer: writer,
		reader: reader,
		clock:  clock.RealClock{},
		table:  tableName,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.selectPrefix = " select `object`, `version` from " + s.table + " where "

	return s
}

var _ profilesync.RunStore = (*RunStore)(nil)

func (s *RunStore) Store(ctx context.Context, r *profilesync.Run) error {
	now := s.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		previous profilesync.Status
		inserted bool
	)
	if r.Version == 0 {
		err = s.insert(ctx, tx, r)
		if err != nil {
			return err
		}
		inserted = true
	} else {
		previous, err = s.update(ctx, tx, r)
		if err != nil {
			return err
		}
	}

	var notify func()
	if s.events != nil && (inserted || previous != r.Status) {
		notify, err = s.events.Insert(ctx, tx, r.ID, EventType(r.Status))
		if err != nil {
			return errors.Wrap(err, "insert run event", j.MKV{"run_id": r.ID})
		}
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	r.Version++

	if notify != nil {
		notify()
	}

	return nil
}

func (s *RunStore) insert(ctx context.Context, tx *sql.Tx, r *profilesync.Run) error {
	b, err := encode(r, 1)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "insert into "+s.table+
		" (`id`, `subject_id`, `status`, `wake_at`, `version`, `object`, `created_at`, `updated_at`)"+
		" values (?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID,
		r.SubjectID,
		int(r.Status),
		unixNano(r.WakeAt),
		1,
		b,
		unixNano(r.CreatedAt),
		unixNano(r.UpdatedAt),
	)
	if err != nil {
		// The insert may have failed for reasons other than a duplicate key, so only report ErrRunExists when the
		// run is actually there.
		_, lookupErr := s.lookupWhere(ctx, tx, "`id`=?", r.ID)
		if lookupErr == nil {
			return errors.Wrap(profilesync.ErrRunExists, "", j.MKV{"run_id": r.ID})
		}

		return errors.Wrap(err, "failed to insert run", j.MKV{"run_id": r.ID})
	}

	return nil
}

// update performs the compare-and-set write and returns the status the run had before it.
func (s *RunStore) update(ctx context.Context, tx *sql.Tx, r *profilesync.Run) (profilesync.Status, error) {
	var previous int
	err := tx.QueryRowContext(ctx, "select `status` from "+s.table+" where `id`=?", r.ID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrap(profilesync.ErrRunNotFound, "", j.MKV{"run_id": r.ID})
	} else if err != nil {
		return 0, errors.Wrap(err, "select previous status")
	}

	next := r.Version + 1
	b, err := encode(r, next)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, "update "+s.table+" set "+
		" `status`=?, `wake_at`=?, `version`=?, `object`=?, `updated_at`=? where `id`=? and `version`=?",
		int(r.Status),
		unixNano(r.WakeAt),
		next,
		b,
		unixNano(r.UpdatedAt),
		r.ID,
		r.Version,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to update run", j.MKV{"run_id": r.ID})
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if n == 0 {
		return 0, errors.Wrap(profilesync.ErrConflict, "", j.MKV{
			"run_id":        r.ID,
			"write_version": r.Version,
		})
	}

	return profilesync.Status(previous), nil
}

func (s *RunStore) Lookup(ctx context.Context, id string) (*profilesync.Run, error) {
	return s.lookupWhere(ctx, s.reader, "`id`=?", id)
}

func (s *RunStore) ListIncomplete(ctx context.Context) ([]profilesync.Run, error) {
	return s.listWhere(ctx, s.reader, "`status` not in (?, ?) order by `created_at` asc",
		int(profilesync.StatusCompleted),
		int(profilesync.StatusFailed),
	)
}

func (s *RunStore) ListWaking(ctx context.Context, before time.Time) ([]profilesync.Run, error) {
	return s.listWhere(ctx, s.reader, "`status` not in (?, ?) and `wake_at` > 0 and `wake_at` <= ? order by `wake_at` asc",
		int(profilesync.StatusCompleted),
		int(profilesync.StatusFailed),
		unixNano(before),
	)
}

// Stream returns a reflex.StreamFunc over the run events. It returns nil when the store was built without WithEvents.
func (s *RunStore) Stream() reflex.StreamFunc {
	if s.events == nil {
		return nil
	}

	return s.events.ToStream(s.reader)
}

func (s *RunStore) lookupWhere(ctx context.Context, dbc querier, where string, args ...any) (*profilesync.Run, error) {
	r, err := runScan(dbc.QueryRowContext(ctx, s.selectPrefix+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(profilesync.ErrRunNotFound, "", j.MKV{"where": where})
	} else if err != nil {
		return nil, err
	}

	return r, nil
}

func (s *RunStore) listWhere(ctx context.Context, dbc *sql.DB, where string, args ...any) ([]profilesync.Run, error) {
	rows, err := dbc.QueryContext(ctx, s.selectPrefix+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var res []profilesync.Run
	for rows.Next() {
		r, err := runScan(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *r)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func runScan(row row) (*profilesync.Run, error) {
	var (
		b       []byte
		version int64
	)
	err := row.Scan(&b, &version)
	if err != nil {
		return nil, err
	}

	var r profilesync.Run
	err = json.Unmarshal(b, &r)
	if err != nil {
		return nil, errors.Wrap(err, "decode run")
	}

	// The column is authoritative.
	r.Version = version
	return &r, nil
}

func encode(r *profilesync.Run, version int64) ([]byte, error) {
	next := *r
	next.Version = version
	return json.Marshal(&next)
}

// EventType is the reflex event type of a run status change.
type EventType profilesync.Status

func (e EventType) ReflexType() int {
	return int(e)
}

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}

// querier is a common interface for *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
