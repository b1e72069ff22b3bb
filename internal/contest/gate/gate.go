// Package gate admits runs and submissions into a contest. It is the only
// path from a client request to the judge and the attempt ledger.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arena/internal/common/cache"
	"arena/internal/common/storage"
	"arena/internal/contest/catalog"
	"arena/internal/contest/clock"
	"arena/internal/contest/judge"
	"arena/internal/contest/ledger"
	"arena/internal/contest/model"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "contest:submit:idempotency:"
	rateKeyPrefix        = "contest:rate:"
	processingMarker     = "processing"
	defaultSourcePrefix  = "contests"
)

// DefaultLanguages is the allow-list used when none is configured.
var DefaultLanguages = []string{"python", "javascript", "java", "cpp", "go"}

// AttemptLedger is the part of the ledger the gate writes through.
type AttemptLedger interface {
	Record(ctx context.Context, a *model.Attempt) (string, error)
	Resolve(ctx context.Context, attemptID string, outcome model.Outcome) (*model.Attempt, error)
	Get(ctx context.Context, attemptID string) (*model.Attempt, error)
}

// RateLimitConfig holds per-contestant throttling.
type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	Judge   time.Duration `yaml:"judge"`
	Cache   time.Duration `yaml:"cache"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds gate dependencies and settings. Cache and Storage are optional:
// without a cache there is no rate limiting or idempotency, without storage
// sources are not archived.
type Config struct {
	Contests ledger.ContestSource
	Ledger   AttemptLedger
	Catalog  catalog.Catalog
	Judge    judge.Judge
	Cache    cache.Cache
	Storage  storage.ObjectStorage
	Clock    clock.Clock

	Languages       []string
	MaxCodeBytes    int
	PersistRuns     bool
	SourceBucket    string
	SourceKeyPrefix string
	IdempotencyTTL  time.Duration
	RateLimit       RateLimitConfig
	Timeouts        TimeoutConfig
}

type Gate struct {
	contests ledger.ContestSource
	ledger   AttemptLedger
	catalog  catalog.Catalog
	judge    judge.Judge
	cache    cache.Cache
	storage  storage.ObjectStorage
	clock    clock.Clock

	languages       map[string]struct{}
	maxCodeBytes    int
	persistRuns     bool
	sourceBucket    string
	sourceKeyPrefix string
	idempotencyTTL  time.Duration
	rateLimit       RateLimitConfig
	timeouts        TimeoutConfig
}

// SubmitInput describes a scoring submission.
type SubmitInput struct {
	ContestID      string
	ContestantID   string
	ProblemID      string
	Code           string
	Language       string
	IdempotencyKey string
}

// RunInput describes an example-only run.
type RunInput struct {
	ContestID    string
	ContestantID string
	ProblemID    string
	Code         string
	Language     string
}

// RunOutcome is the result of a run. AttemptID is empty when the run was not persisted.
type RunOutcome struct {
	AttemptID string             `json:"attempt_id,omitempty"`
	Passed    bool               `json:"passed"`
	Results   []model.CaseResult `json:"results"`
}

func New(cfg Config) (*Gate, error) {
	if cfg.Contests == nil {
		return nil, fmt.Errorf("contest source is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.Storage != nil && cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required when storage is set")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Timeouts.Judge <= 0 {
		cfg.Timeouts.Judge = 30 * time.Second
	}
	languages := make(map[string]struct{}, len(cfg.Languages))
	for _, l := range cfg.Languages {
		languages[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return &Gate{
		contests:        cfg.Contests,
		ledger:          cfg.Ledger,
		catalog:         cfg.Catalog,
		judge:           cfg.Judge,
		cache:           cfg.Cache,
		storage:         cfg.Storage,
		clock:           cfg.Clock,
		languages:       languages,
		maxCodeBytes:    cfg.MaxCodeBytes,
		persistRuns:     cfg.PersistRuns,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: cfg.SourceKeyPrefix,
		idempotencyTTL:  cfg.IdempotencyTTL,
		rateLimit:       cfg.RateLimit,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Submit admits a submission, judges it against every test case and returns
// the resolved attempt. Infrastructure failures are recorded as failed
// attempts and reported as JudgeUnavailable carrying the attempt id.
func (g *Gate) Submit(ctx context.Context, in SubmitInput) (*model.Attempt, error) {
	lang, err := g.validate(in.ContestantID, in.ProblemID, in.Code, in.Language)
	if err != nil {
		return nil, err
	}
	problem, err := g.admit(ctx, in.ContestID, in.ContestantID, in.ProblemID)
	if err != nil {
		return nil, err
	}

	// Replays return the original attempt without counting against the rate limit.
	idemKey := g.idempotencyKey(in)
	acquired, existingID, err := g.acquireIdempotency(ctx, idemKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		existing, err := g.ledger.Get(ctx, existingID)
		if err != nil {
			return nil, mapLedgerError(err)
		}
		return existing, nil
	}
	if err := g.checkRateLimit(ctx, "submit", in.ContestID, in.ContestantID); err != nil {
		g.releaseIdempotency(ctx, idemKey, acquired)
		return nil, err
	}

	attempt := &model.Attempt{
		ID:           uuid.NewString(),
		ContestID:    in.ContestID,
		ContestantID: in.ContestantID,
		ProblemID:    in.ProblemID,
		Code:         in.Code,
		Language:     lang,
		Mode:         model.ModeSubmit,
	}
	if err := g.archiveSource(ctx, attempt); err != nil {
		g.releaseIdempotency(ctx, idemKey, acquired)
		return nil, err
	}
	if _, err := g.ledger.Record(ctx, attempt); err != nil {
		g.discardSource(ctx, attempt)
		g.releaseIdempotency(ctx, idemKey, acquired)
		return nil, mapLedgerError(err)
	}
	g.finalizeIdempotency(ctx, idemKey, attempt.ID, acquired)

	return g.judgeSubmission(ctx, attempt, problem)
}

func (g *Gate) judgeSubmission(ctx context.Context, attempt *model.Attempt, problem *model.Problem) (*model.Attempt, error) {
	res, judgeErr := g.evaluate(ctx, attempt.ID, attempt.Code, attempt.Language, problem.TestCases)
	outcome := outcomeOf(res, judgeErr)

	// The verdict must land even if the caller has gone away.
	resolveCtx := context.WithoutCancel(ctx)
	resolved, err := g.ledger.Resolve(resolveCtx, attempt.ID, outcome)
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		return resolved, appErr.New(appErr.InvariantViolation).WithDetail("attempt_id", attempt.ID)
	case err != nil:
		logger.Error(ctx, "apply verdict failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
		return nil, mapLedgerError(err)
	}

	if judgeErr != nil {
		logger.Warn(ctx, "judge failed, attempt recorded as failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("error_kind", string(outcome.ErrorKind)),
			zap.Error(judgeErr),
		)
		return resolved, judgeUnavailable(attempt.ID, outcome.ErrorKind)
	}
	return resolved, nil
}

// Run judges code against the problem's example cases. Runs never affect
// scoring; when persistence is enabled they are recorded for audit.
func (g *Gate) Run(ctx context.Context, in RunInput) (*RunOutcome, error) {
	lang, err := g.validate(in.ContestantID, in.ProblemID, in.Code, in.Language)
	if err != nil {
		return nil, err
	}
	problem, err := g.admit(ctx, in.ContestID, in.ContestantID, in.ProblemID)
	if err != nil {
		return nil, err
	}
	if err := g.checkRateLimit(ctx, "run", in.ContestID, in.ContestantID); err != nil {
		return nil, err
	}
	examples := problem.ExampleCases()
	if len(examples) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("problem has no example test cases")
	}

	res, judgeErr := g.evaluate(ctx, "", in.Code, lang, examples)
	outcome := outcomeOf(res, judgeErr)

	out := &RunOutcome{Passed: outcome.Verdict == model.VerdictPassed, Results: outcome.Results}
	if g.persistRuns {
		out.AttemptID = g.recordRun(ctx, in, lang, outcome)
	}
	if judgeErr != nil {
		logger.Warn(ctx, "judge failed during run", zap.String("problem_id", in.ProblemID), zap.Error(judgeErr))
		return nil, judgeUnavailable(out.AttemptID, outcome.ErrorKind)
	}
	return out, nil
}

func (g *Gate) recordRun(ctx context.Context, in RunInput, lang string, outcome model.Outcome) string {
	attempt := &model.Attempt{
		ContestID:    in.ContestID,
		ContestantID: in.ContestantID,
		ProblemID:    in.ProblemID,
		Code:         in.Code,
		Language:     lang,
		Mode:         model.ModeRun,
		Verdict:      outcome.Verdict,
		Results:      outcome.Results,
		ErrorKind:    outcome.ErrorKind,
		ErrorMessage: outcome.ErrorMessage,
	}
	id, err := g.ledger.Record(context.WithoutCancel(ctx), attempt)
	if err != nil {
		logger.Warn(ctx, "run not persisted",
			zap.String("contest_id", in.ContestID),
			zap.String("problem_id", in.ProblemID),
			zap.Error(err),
		)
		return ""
	}
	return id
}

func (g *Gate) validate(contestantID, problemID, code, language string) (string, error) {
	if strings.TrimSpace(contestantID) == "" {
		return "", appErr.New(appErr.Unauthorized)
	}
	if strings.TrimSpace(problemID) == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(code) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return "", appErr.ValidationError("language", "required")
	}
	if _, ok := g.languages[lang]; !ok {
		return "", appErr.New(appErr.LanguageNotSupported).WithDetail("language", language)
	}
	if g.maxCodeBytes > 0 && len(code) > g.maxCodeBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", g.maxCodeBytes)
	}
	return lang, nil
}

// admit runs the contest checks shared by run and submit and loads the problem.
func (g *Gate) admit(ctx context.Context, contestID, contestantID, problemID string) (*model.Problem, error) {
	contest, err := g.contests.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if phase := clock.Phase(*contest, g.clock.Now()); phase != model.PhaseRunning {
		return nil, appErr.New(appErr.ContestNotRunning).WithDetail("phase", phase)
	}
	if !contest.IsParticipant(contestantID) {
		return nil, appErr.New(appErr.NotRegistered)
	}
	if !contest.HasProblem(problemID) {
		return nil, appErr.New(appErr.ProblemNotInContest).WithDetail("problem_id", problemID)
	}
	return g.catalog.GetProblem(ctx, problemID)
}

func (g *Gate) evaluate(ctx context.Context, attemptID, code, language string, cases []model.TestCase) (*judge.Result, error) {
	ctxJudge, cancel := context.WithTimeout(ctx, g.timeouts.Judge)
	defer cancel()
	return g.judge.Evaluate(ctxJudge, judge.Request{
		AttemptID: attemptID,
		Code:      code,
		Language:  language,
		TestCases: cases,
	})
}

func outcomeOf(res *judge.Result, err error) model.Outcome {
	if err == nil && res != nil && res.InfraError == "" {
		verdict := model.VerdictFailed
		if res.Passed {
			verdict = model.VerdictPassed
		}
		return model.Outcome{Verdict: verdict, Results: res.Cases}
	}

	kind := model.ErrorJudgeUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = model.ErrorJudgeTimeout
	case errors.Is(err, context.Canceled):
		kind = model.ErrorJudgeInterrupted
	}
	msg := "judge returned no result"
	if err != nil {
		msg = err.Error()
	} else if res != nil && res.InfraError != "" {
		msg = res.InfraError
	}
	return model.Outcome{Verdict: model.VerdictFailed, ErrorKind: kind, ErrorMessage: msg}
}

func judgeUnavailable(attemptID string, kind model.ErrorKind) error {
	e := appErr.New(appErr.JudgeUnavailable).WithDetail("reason", string(kind))
	if attemptID != "" {
		e.WithDetail("attempt_id", attemptID)
	}
	return e
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrDuplicateSubmit):
		return appErr.New(appErr.AlreadyAccepted)
	case errors.Is(err, ledger.ErrContestClosed):
		return appErr.New(appErr.ContestNotRunning)
	case errors.Is(err, ledger.ErrSubmissionInFlight):
		return appErr.New(appErr.SubmissionInProgress)
	case errors.Is(err, ledger.ErrAttemptNotFound):
		return appErr.New(appErr.AttemptNotFound)
	case errors.Is(err, ledger.ErrLockTimeout):
		return appErr.Wrapf(err, appErr.LockFailed, "attempt lock busy")
	case errors.Is(err, ledger.ErrInvalidAttempt):
		return appErr.Wrapf(err, appErr.InvalidParams, "invalid attempt")
	}
	var e *appErr.Error
	if errors.As(err, &e) {
		return err
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "ledger write failed")
}

func (g *Gate) checkRateLimit(ctx context.Context, action, contestID, contestantID string) error {
	if g.cache == nil || g.rateLimit.Max <= 0 || g.rateLimit.Window <= 0 {
		return nil
	}
	ctxCache, cancel := g.withTimeout(ctx, g.timeouts.Cache)
	defer cancel()

	key := rateKeyPrefix + action + ":" + contestID + ":" + contestantID
	count, err := g.cache.Incr(ctxCache, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = g.cache.Expire(ctxCache, key, g.rateLimit.Window)
	}
	if int(count) > g.rateLimit.Max {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func (g *Gate) idempotencyKey(in SubmitInput) string {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || g.cache == nil {
		return ""
	}
	return idempotencyKeyPrefix + in.ContestID + ":" + in.ContestantID + ":" + in.ProblemID + ":" + key
}

func (g *Gate) acquireIdempotency(ctx context.Context, cacheKey string) (bool, string, error) {
	if cacheKey == "" {
		return true, "", nil
	}
	ctxCache, cancel := g.withTimeout(ctx, g.timeouts.Cache)
	defer cancel()

	ok, err := g.cache.SetNX(ctxCache, cacheKey, processingMarker, g.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := g.cache.Get(ctxCache, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.SubmissionInProgress)
}

func (g *Gate) finalizeIdempotency(ctx context.Context, cacheKey, attemptID string, acquired bool) {
	if !acquired || cacheKey == "" {
		return
	}
	ctxCache, cancel := g.withTimeout(ctx, g.timeouts.Cache)
	defer cancel()
	if err := g.cache.Set(ctxCache, cacheKey, attemptID, g.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (g *Gate) releaseIdempotency(ctx context.Context, cacheKey string, acquired bool) {
	if !acquired || cacheKey == "" {
		return
	}
	ctxCache, cancel := g.withTimeout(ctx, g.timeouts.Cache)
	defer cancel()
	if err := g.cache.Del(ctxCache, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (g *Gate) archiveSource(ctx context.Context, attempt *model.Attempt) error {
	if g.storage == nil {
		return nil
	}
	key := fmt.Sprintf("%s/%s/%s/%s/%s.src", g.sourceKeyPrefix, attempt.ContestID, attempt.ContestantID, attempt.ProblemID, attempt.ID)
	ctxStorage, cancel := g.withTimeout(ctx, g.timeouts.Storage)
	defer cancel()
	if err := g.storage.PutObject(ctxStorage, g.sourceBucket, key, strings.NewReader(attempt.Code), int64(len(attempt.Code)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "archive source failed")
	}
	attempt.SourceKey = key
	return nil
}

// discardSource removes the archived source of an attempt the ledger refused.
func (g *Gate) discardSource(ctx context.Context, attempt *model.Attempt) {
	if g.storage == nil || attempt.SourceKey == "" {
		return
	}
	ctxStorage, cancel := g.withTimeout(context.WithoutCancel(ctx), g.timeouts.Storage)
	defer cancel()
	if err := g.storage.RemoveObjects(ctxStorage, g.sourceBucket, []string{attempt.SourceKey}); err != nil {
		logger.Warn(ctx, "remove orphaned source failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("source_key", attempt.SourceKey),
			zap.Error(err),
		)
	}
}

func (g *Gate) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
