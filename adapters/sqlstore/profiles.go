package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

// ProfileStore is the primary data store for profiles, one row per email.
type ProfileStore struct {
	writer *sql.DB
	reader *sql.DB
	clock  clock.Clock

	table        string
	selectPrefix string
}

func NewProfileStore(writer, reader *sql.DB, tableName string, opts ...ProfileOption) *ProfileStore {
	s := &ProfileStore{
		writer: writer,
		reader: reader,
		clock:  clock.RealClock{},
		table:  tableName,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.selectPrefix = " select `email`, `first_name`, `last_name`, `phone_number`, `city`, `pincode`, `version`, " +
		"`created_at`, `updated_at` from " + s.table + " where "

	return s
}

type ProfileOption func(s *ProfileStore)

func WithProfileClock(clock clock.Clock) ProfileOption {
	return func(s *ProfileStore) {
		s.clock = clock
	}
}

var _ profilesync.ProfileStore = (*ProfileStore)(nil)

func (s *ProfileStore) Upsert(ctx context.Context, subjectID string, f profilesync.ProfileFields) (*profilesync.PersistedProfile, error) {
	err := profilesync.ValidateProfile(subjectID, f)
	if err != nil {
		return nil, err
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := s.lookupWhere(ctx, tx, "`email`=?", subjectID)
	if err != nil {
		return nil, err
	}

	if p.ProfileFields == f {
		return p, nil
	}

	p.ProfileFields = f
	p.Version++
	p.UpdatedAt = s.clock.Now()

	_, err = tx.ExecContext(ctx, "update "+s.table+" set "+
		" `first_name`=?, `last_name`=?, `phone_number`=?, `city`=?, `pincode`=?, `version`=?, `updated_at`=? "+
		" where `email`=?",
		f.FirstName,
		f.LastName,
		f.PhoneNumber,
		f.City,
		f.Pincode,
		p.Version,
		unixNano(p.UpdatedAt),
		subjectID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update profile", j.MKV{"email": subjectID})
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (s *ProfileStore) Create(ctx context.Context, subjectID string, f profilesync.ProfileFields) (*profilesync.PersistedProfile, error) {
	err := profilesync.ValidateProfile(subjectID, f)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := profilesync.PersistedProfile{
		SubjectID:     subjectID,
		ProfileFields: f,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.writer.ExecContext(ctx, "insert into "+s.table+
		" (`email`, `first_name`, `last_name`, `phone_number`, `city`, `pincode`, `version`, `created_at`, `updated_at`)"+
		" values (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		subjectID,
		f.FirstName,
		f.LastName,
		f.PhoneNumber,
		f.City,
		f.Pincode,
		p.Version,
		unixNano(p.CreatedAt),
		unixNano(p.UpdatedAt),
	)
	if err != nil {
		_, lookupErr := s.Lookup(ctx, subjectID)
		if lookupErr == nil {
			return nil, errors.Wrap(profilesync.ErrProfileExists, "", j.MKV{"email": subjectID})
		}

		return nil, errors.Wrap(err, "failed to create profile", j.MKV{"email": subjectID})
	}

	return &p, nil
}

func (s *ProfileStore) Lookup(ctx context.Context, subjectID string) (*profilesync.PersistedProfile, error) {
	return s.lookupWhere(ctx, s.reader, "`email`=?", subjectID)
}

func (s *ProfileStore) List(ctx context.Context) ([]profilesync.PersistedProfile, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+"1=1 order by `email` asc")
	if err != nil {
		return nil, errors.Wrap(err, "list profiles")
	}
	defer rows.Close()

	var res []profilesync.PersistedProfile
	for rows.Next() {
		p, err := profileScan(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *p)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func (s *ProfileStore) lookupWhere(ctx context.Context, dbc querier, where string, args ...any) (*profilesync.PersistedProfile, error) {
	p, err := profileScan(dbc.QueryRowContext(ctx, s.selectPrefix+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(profilesync.ErrNotFound, "", j.MKV{"where": where})
	} else if err != nil {
		return nil, err
	}

	return p, nil
}

func profileScan(row row) (*profilesync.PersistedProfile, error) {
	var (
		p                    profilesync.PersistedProfile
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&p.SubjectID,
		&p.FirstName,
		&p.LastName,
		&p.PhoneNumber,
		&p.City,
		&p.Pincode,
		&p.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = fromUnixNano(createdAt)
	p.UpdatedAt = fromUnixNano(updatedAt)
	return &p, nil
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}
