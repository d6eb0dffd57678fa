package contest

import (
	"context"
	"time"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/beam-cloud/contestfs/pkg/index"
	"github.com/beam-cloud/contestfs/pkg/inode"
	"github.com/beam-cloud/contestfs/pkg/metrics"
	"github.com/beam-cloud/contestfs/pkg/snapshot"
	"github.com/beam-cloud/contestfs/pkg/submit"
)

// Remote is the contest server API consumed by the refresh drivers.
// *ejudge.Client implements it.
type Remote interface {
	ListContests(ctx context.Context) ([]ejudge.ContestBrief, error)
	EnterContest(ctx context.Context, contestID int) (ejudge.Session, error)
	ContestStatus(ctx context.Context, s ejudge.Session) (ejudge.ContestInfo, error)
	ListRuns(ctx context.Context, s ejudge.Session) (ejudge.RunLog, error)
	ProblemStatus(ctx context.Context, s ejudge.Session, problemID int) (ejudge.ProblemInfo, error)
	ProblemStatement(ctx context.Context, s ejudge.Session, problemID int) ([]byte, error)
	RunStatus(ctx context.Context, s ejudge.Session, runID int) (ejudge.RunInfo, error)
	RunSource(ctx context.Context, s ejudge.Session, runID int) ([]byte, error)
	RunMessages(ctx context.Context, s ejudge.Session, runID int) (ejudge.RunMessages, error)
	RunTestData(ctx context.Context, s ejudge.Session, runID, testNum int, kind common.TestKind) ([]byte, error)
	SubmitRun(ctx context.Context, s ejudge.Session, problemID, langID int, fileName string, data []byte) (int, error)
}

var _ Remote = (*ejudge.Client)(nil)

const (
	DefaultCacheTTL   = 30 * time.Second
	DefaultRetryDelay = 10 * time.Second

	// DefaultSessionTTL re-enters a contest well before the server's
	// default session lifetime runs out.
	DefaultSessionTTL = 30 * time.Minute

	DefaultMaxProblemID = 1000
	DefaultMaxLangID    = 1000
	DefaultMaxTestNum   = 10000
)

// Policies holds the freshness policy of every cached view.
type Policies struct {
	ContestList snapshot.Policy
	Session     snapshot.Policy
	ContestInfo snapshot.Policy
	Log         snapshot.Policy
	ProblemInfo snapshot.Policy
	Statement   snapshot.Policy
	RunInfo     snapshot.Policy
	RunSource   snapshot.Policy
	Messages    snapshot.Policy
	TestData    snapshot.Policy
}

// DefaultPolicies refreshes mutable views every DefaultCacheTTL and never
// rechecks views whose content cannot change once fetched.
func DefaultPolicies() Policies {
	mutable := snapshot.Policy{CacheTTL: DefaultCacheTTL, RetryDelay: DefaultRetryDelay}
	immutable := snapshot.Policy{RetryDelay: DefaultRetryDelay}
	return Policies{
		ContestList: mutable,
		Session:     snapshot.Policy{CacheTTL: DefaultSessionTTL, RetryDelay: DefaultRetryDelay},
		ContestInfo: mutable,
		Log:         mutable,
		ProblemInfo: mutable,
		Statement:   immutable,
		RunInfo:     mutable,
		RunSource:   immutable,
		Messages:    mutable,
		TestData:    immutable,
	}
}

type Options struct {
	// Policies defaults to DefaultPolicies when nil. Zero policies are kept
	// as given.
	Policies *Policies
	Store    filestore.Options
	Metrics  *metrics.Metrics

	MaxProblemID int
	MaxLangID    int
	MaxTestNum   int

	// Now is the clock used by the freshness gates. Defaults to time.Now.
	Now func() time.Time
}

// State is the application state of one mount: every cached view, the
// submission staging store and the submission queue.
type State struct {
	remote  Remote
	opts    Options
	metrics *metrics.Metrics

	contestList *snapshot.Slot[[]ejudge.ContestBrief]
	contests    *index.Sorted[int, *Contest]

	Inodes *inode.Table
	Store  *filestore.Store
	Queue  *submit.Queue
}

func New(remote Remote, opts Options) *State {
	if opts.Policies == nil {
		p := DefaultPolicies()
		opts.Policies = &p
	}
	if opts.MaxProblemID <= 0 {
		opts.MaxProblemID = DefaultMaxProblemID
	}
	if opts.MaxLangID <= 0 {
		opts.MaxLangID = DefaultMaxLangID
	}
	if opts.MaxTestNum <= 0 {
		opts.MaxTestNum = DefaultMaxTestNum
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}

	st := &State{
		remote:      remote,
		opts:        opts,
		metrics:     opts.Metrics,
		contestList: snapshot.NewSlot[[]ejudge.ContestBrief](),
		Inodes:      inode.NewTable(inode.RootInode + 1),
		Store:       filestore.New(opts.Store),
		Queue:       submit.NewQueue(),
	}
	st.contests = index.NewSorted(st.newContest)
	return st
}

func (st *State) Now() time.Time {
	return st.opts.Now()
}

func (st *State) Metrics() *metrics.Metrics {
	return st.metrics
}

// Contest returns the bundle for contest id, creating it on first use.
func (st *State) Contest(id int) *Contest {
	return st.contests.GetOrCreate(id)
}

func (st *State) FindContest(id int) (*Contest, bool) {
	return st.contests.Find(id)
}

func (st *State) ContestListSlot() *snapshot.Slot[[]ejudge.ContestBrief] {
	return st.contestList
}

// ContestList returns the current contest list snapshot. The caller must
// Release it.
func (st *State) ContestList() *snapshot.Snapshot[[]ejudge.ContestBrief] {
	return st.contestList.Acquire()
}

// Close stops accepting submissions.
func (st *State) Close() {
	st.Queue.Close()
}
