package contest

import (
	"context"
	"fmt"
	"time"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/beam-cloud/contestfs/pkg/snapshot"
	"github.com/rs/zerolog/log"
)

// refresh runs the freshness gate of one slot and records the outcome.
func refresh[T any](ctx context.Context, st *State, view string, slot *snapshot.Slot[T], policy snapshot.Policy, fetch snapshot.FetchFunc[T]) bool {
	start := time.Now()
	if !snapshot.Refresh(ctx, slot, policy, st.Now(), fetch) {
		return false
	}

	snap := slot.Acquire()
	ok, msg, version := snap.OK, snap.Log, snap.Version
	snap.Release()

	st.metrics.RecordRefresh(view, ok, time.Since(start))
	if !ok {
		log.Warn().Str("view", view).Uint64("version", version).Str("error", msg).Msg("refresh failed")
	}
	return true
}

// session returns valid credentials for c, entering the contest if needed.
// While another caller is still entering the contest it returns
// snapshot.ErrSkipped, so the dependent view is retried on its next access
// instead of backing off.
func (st *State) session(ctx context.Context, c *Contest) (ejudge.Session, error) {
	st.UpdateSession(ctx, c)

	snap := c.Session.Acquire()
	defer snap.Release()

	if !snap.OK && c.Session.Writing() {
		return ejudge.Session{}, fmt.Errorf("contest %d: login in progress: %w", c.ID, snapshot.ErrSkipped)
	}
	if !snap.OK {
		if snap.Log == "" {
			return ejudge.Session{}, common.ErrNoSession
		}
		return ejudge.Session{}, fmt.Errorf("%w: %s", common.ErrNoSession, snap.Log)
	}
	return snap.Value, nil
}

// sessionFailed expires the session of c when err says the server no longer
// accepts it. err is returned unchanged.
func (st *State) sessionFailed(c *Contest, err error) error {
	if ejudge.IsSessionExpired(err) {
		log.Info().Int("contest", c.ID).Msg("session rejected, re-entering on next access")
		snapshot.Expire(c.Session, st.Now())
	}
	return err
}

// withSession adapts a session-scoped remote call to a FetchFunc.
func withSession[T any](st *State, c *Contest, call func(ctx context.Context, s ejudge.Session) (T, error)) snapshot.FetchFunc[T] {
	return func(ctx context.Context, _ *snapshot.Snapshot[T]) (T, error) {
		s, err := st.session(ctx, c)
		if err != nil {
			var zero T
			return zero, err
		}
		v, err := call(ctx, s)
		if err != nil {
			var zero T
			return zero, st.sessionFailed(c, err)
		}
		return v, nil
	}
}

func (st *State) UpdateContestList(ctx context.Context) bool {
	return refresh(ctx, st, "contests", st.contestList, st.opts.Policies.ContestList,
		func(ctx context.Context, _ *snapshot.Snapshot[[]ejudge.ContestBrief]) ([]ejudge.ContestBrief, error) {
			return st.remote.ListContests(ctx)
		})
}

func (st *State) UpdateSession(ctx context.Context, c *Contest) bool {
	now := st.Now()

	snap := c.Session.Acquire()
	expired := snap.OK && snap.Value.Expire != 0 && !now.Before(snap.Value.ExpiresAt())
	snap.Release()
	if expired {
		snapshot.Expire(c.Session, now)
	}

	return refresh(ctx, st, "session", c.Session, st.opts.Policies.Session,
		func(ctx context.Context, _ *snapshot.Snapshot[ejudge.Session]) (ejudge.Session, error) {
			return st.remote.EnterContest(ctx, c.ID)
		})
}

func (st *State) UpdateContestInfo(ctx context.Context, c *Contest) bool {
	return refresh(ctx, st, "contest_info", c.Info, st.opts.Policies.ContestInfo,
		withSession(st, c, st.remote.ContestStatus))
}

func (st *State) UpdateLog(ctx context.Context, c *Contest) bool {
	return refresh(ctx, st, "log", c.Log, st.opts.Policies.Log,
		withSession(st, c, st.remote.ListRuns))
}

func (st *State) UpdateProblemInfo(ctx context.Context, p *Problem) bool {
	return refresh(ctx, st, "problem_info", p.Info, st.opts.Policies.ProblemInfo,
		withSession(st, p.Contest, func(ctx context.Context, s ejudge.Session) (ejudge.ProblemInfo, error) {
			return st.remote.ProblemStatus(ctx, s, p.ID)
		}))
}

func (st *State) UpdateStatement(ctx context.Context, p *Problem) bool {
	return refresh(ctx, st, "statement", p.Statement, st.opts.Policies.Statement,
		withSession(st, p.Contest, func(ctx context.Context, s ejudge.Session) ([]byte, error) {
			return st.remote.ProblemStatement(ctx, s, p.ID)
		}))
}

func (st *State) UpdateRunInfo(ctx context.Context, r *Run) bool {
	return refresh(ctx, st, "run_info", r.Info, st.opts.Policies.RunInfo,
		withSession(st, r.Contest, func(ctx context.Context, s ejudge.Session) (ejudge.RunInfo, error) {
			return st.remote.RunStatus(ctx, s, r.ID)
		}))
}

func (st *State) UpdateRunSource(ctx context.Context, r *Run) bool {
	return refresh(ctx, st, "run_source", r.Source, st.opts.Policies.RunSource,
		withSession(st, r.Contest, func(ctx context.Context, s ejudge.Session) ([]byte, error) {
			return st.remote.RunSource(ctx, s, r.ID)
		}))
}

func (st *State) UpdateRunMessages(ctx context.Context, r *Run) bool {
	return refresh(ctx, st, "messages", r.Messages, st.opts.Policies.Messages,
		withSession(st, r.Contest, func(ctx context.Context, s ejudge.Session) (ejudge.RunMessages, error) {
			return st.remote.RunMessages(ctx, s, r.ID)
		}))
}

func (st *State) UpdateTestData(ctx context.Context, r *Run, t *TestResult, kind common.TestKind) bool {
	if kind < 0 || kind >= common.NumTestKinds {
		return false
	}
	return refresh(ctx, st, "test_"+kind.String(), t.Data[kind], st.opts.Policies.TestData,
		withSession(st, r.Contest, func(ctx context.Context, s ejudge.Session) ([]byte, error) {
			return st.remote.RunTestData(ctx, s, r.ID, t.Num, kind)
		}))
}
