package repository

import (
	"context"
	"encoding/json"
	"time"

	"arena/internal/common/db"
	"arena/internal/contest/ledger"
	"arena/internal/contest/model"
)

const (
	acceptedKeyMySQL    = "uk_contest_accepted_triple"
	acceptedKeyPostgres = "contest_accepted_triple_key"
)

// SQLAttemptStore persists the ledger in contest_attempts. Accepted
// submissions also claim a row in contest_accepted, whose unique key on the
// triple rejects a second accept at the database.
type SQLAttemptStore struct {
	db db.Database
}

func NewSQLAttemptStore(database db.Database) *SQLAttemptStore {
	return &SQLAttemptStore{db: database}
}

const attemptColumns = "id, seq, contest_id, contestant_id, problem_id, mode, language, code, source_key, verdict, results, error_kind, error_message, submitted_at, judged_at"

func (s *SQLAttemptStore) Append(ctx context.Context, a *model.Attempt) error {
	results, err := encodeResults(a.Results)
	if err != nil {
		return err
	}
	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO contest_attempts
			(id, seq, contest_id, contestant_id, problem_id, mode, language, code, source_key, verdict, results, error_kind, error_message, submitted_at, judged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID,
			a.Seq,
			a.ContestID,
			a.ContestantID,
			a.ProblemID,
			a.Mode.String(),
			a.Language,
			a.Code,
			a.SourceKey,
			string(a.Verdict),
			results,
			string(a.ErrorKind),
			a.ErrorMessage,
			a.SubmittedAt.UTC(),
			utcOrNil(a.JudgedAt),
		); err != nil {
			return err
		}
		if a.Accepted() {
			return claimAccept(ctx, tx, a)
		}
		return nil
	})
	return s.mapWriteError(err)
}

func (s *SQLAttemptStore) Resolve(ctx context.Context, id string, outcome model.Outcome, judgedAt time.Time) (*model.Attempt, error) {
	results, err := encodeResults(outcome.Results)
	if err != nil {
		return nil, err
	}
	var out *model.Attempt
	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		current, err := scanAttempt(tx.QueryRow(ctx, "SELECT "+attemptColumns+" FROM contest_attempts WHERE id = ? FOR UPDATE", id))
		if err != nil {
			if db.IsNoRows(err) {
				return ledger.ErrAttemptNotFound
			}
			return err
		}
		if current.Verdict.Final() {
			return ledger.ErrAttemptResolved
		}
		current.Verdict = outcome.Verdict
		current.Results = outcome.Results
		current.ErrorKind = outcome.ErrorKind
		current.ErrorMessage = outcome.ErrorMessage
		t := judgedAt.UTC()
		current.JudgedAt = &t

		if current.Accepted() {
			if err := claimAccept(ctx, tx, current); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE contest_attempts
			SET verdict = ?, results = ?, error_kind = ?, error_message = ?, judged_at = ?
			WHERE id = ? AND verdict = ?
		`,
			string(current.Verdict),
			results,
			string(current.ErrorKind),
			current.ErrorMessage,
			t,
			id,
			string(model.VerdictPending),
		); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, s.mapWriteError(err)
	}
	return out, nil
}

func claimAccept(ctx context.Context, tx db.Transaction, a *model.Attempt) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO contest_accepted (contest_id, contestant_id, problem_id, attempt_id) VALUES (?, ?, ?, ?)",
		a.ContestID, a.ContestantID, a.ProblemID, a.ID,
	)
	return err
}

func (s *SQLAttemptStore) mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if key, ok := s.db.Dialect().UniqueViolation(err); ok && isAcceptedKey(key) {
		return ledger.ErrDuplicateAccept
	}
	return err
}

// isAcceptedKey matches the unique key on the contest_accepted triple. MySQL
// 8 prefixes the table name, older servers report the bare key name.
func isAcceptedKey(key string) bool {
	switch key {
	case acceptedKeyMySQL, "contest_accepted." + acceptedKeyMySQL, acceptedKeyPostgres:
		return true
	}
	return false
}

func (s *SQLAttemptStore) Get(ctx context.Context, id string) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRow(ctx, "SELECT "+attemptColumns+" FROM contest_attempts WHERE id = ? LIMIT 1", id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ledger.ErrAttemptNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *SQLAttemptStore) Triple(ctx context.Context, key model.TripleKey) ([]model.Attempt, error) {
	return s.query(ctx,
		"SELECT "+attemptColumns+" FROM contest_attempts WHERE contest_id = ? AND contestant_id = ? AND problem_id = ? ORDER BY seq",
		key.ContestID, key.ContestantID, key.ProblemID,
	)
}

func (s *SQLAttemptStore) Contest(ctx context.Context, contestID string) ([]model.Attempt, error) {
	return s.query(ctx,
		"SELECT "+attemptColumns+" FROM contest_attempts WHERE contest_id = ? ORDER BY submitted_at, contestant_id, problem_id, seq",
		contestID,
	)
}

func (s *SQLAttemptStore) Contestant(ctx context.Context, contestID, contestantID string) ([]model.Attempt, error) {
	return s.query(ctx,
		"SELECT "+attemptColumns+" FROM contest_attempts WHERE contest_id = ? AND contestant_id = ? ORDER BY submitted_at, problem_id, seq",
		contestID, contestantID,
	)
}

func (s *SQLAttemptStore) PendingBefore(ctx context.Context, before time.Time) ([]model.Attempt, error) {
	return s.query(ctx,
		"SELECT "+attemptColumns+" FROM contest_attempts WHERE verdict = ? AND submitted_at < ? ORDER BY submitted_at",
		string(model.VerdictPending), before.UTC(),
	)
}

func (s *SQLAttemptStore) HasPending(ctx context.Context, contestID string) (bool, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(1) FROM contest_attempts WHERE contest_id = ? AND verdict = ?",
		contestID, string(model.VerdictPending),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLAttemptStore) query(ctx context.Context, query string, args ...interface{}) ([]model.Attempt, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttempt(row db.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var (
		mode      string
		verdict   string
		results   *string
		errorKind *string
		errorMsg  *string
		sourceKey *string
		judgedAt  *time.Time
	)
	if err := row.Scan(
		&a.ID,
		&a.Seq,
		&a.ContestID,
		&a.ContestantID,
		&a.ProblemID,
		&mode,
		&a.Language,
		&a.Code,
		&sourceKey,
		&verdict,
		&results,
		&errorKind,
		&errorMsg,
		&a.SubmittedAt,
		&judgedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := model.ParseExecutionMode(mode)
	if err != nil {
		return nil, err
	}
	a.Mode = parsed
	a.Verdict = model.Verdict(verdict)
	if sourceKey != nil {
		a.SourceKey = *sourceKey
	}
	if errorKind != nil {
		a.ErrorKind = model.ErrorKind(*errorKind)
	}
	if errorMsg != nil {
		a.ErrorMessage = *errorMsg
	}
	if judgedAt != nil {
		t := judgedAt.UTC()
		a.JudgedAt = &t
	}
	a.SubmittedAt = a.SubmittedAt.UTC()
	if results != nil && *results != "" {
		if err := json.Unmarshal([]byte(*results), &a.Results); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func encodeResults(results []model.CaseResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ ledger.Store = (*SQLAttemptStore)(nil)
