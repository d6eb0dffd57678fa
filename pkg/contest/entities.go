package contest

import (
	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/beam-cloud/contestfs/pkg/index"
	"github.com/beam-cloud/contestfs/pkg/snapshot"
)

// Contest is the permanent state bundle of one contest.
type Contest struct {
	ID int

	Session *snapshot.Slot[ejudge.Session]
	Info    *snapshot.Slot[ejudge.ContestInfo]
	Log     *snapshot.Slot[ejudge.RunLog]

	Problems *index.Dense[*Problem]
	Runs     *index.Sorted[int, *Run]

	state *State
}

func (st *State) newContest(id int) *Contest {
	c := &Contest{
		ID:      id,
		Session: snapshot.NewSlot[ejudge.Session](),
		Info:    snapshot.NewSlot[ejudge.ContestInfo](),
		Log:     snapshot.NewSlot[ejudge.RunLog](),
		state:   st,
	}
	c.Problems = index.NewDense(st.opts.MaxProblemID, c.newProblem)
	c.Runs = index.NewSorted(c.newRun)
	return c
}

// Problem returns the bundle for problem id, creating it on first use.
func (c *Contest) Problem(id int) (*Problem, error) {
	return c.Problems.GetOrCreate(id)
}

// Run returns the bundle for run id, creating it on first use.
func (c *Contest) Run(id int) *Run {
	return c.Runs.GetOrCreate(id)
}

// Problem is the permanent state bundle of one problem within a contest.
type Problem struct {
	ID      int
	Contest *Contest

	Info      *snapshot.Slot[ejudge.ProblemInfo]
	Statement *snapshot.Slot[[]byte]

	// Submit holds one staging directory per language id.
	Submit *index.Dense[*filestore.Directory]
}

func (c *Contest) newProblem(id int) *Problem {
	store := c.state.Store
	return &Problem{
		ID:        id,
		Contest:   c,
		Info:      snapshot.NewSlot[ejudge.ProblemInfo](),
		Statement: snapshot.NewSlot[[]byte](),
		Submit: index.NewDense(c.state.opts.MaxLangID, func(int) *filestore.Directory {
			return filestore.NewDirectory(store)
		}),
	}
}

// SubmitDir returns the staging directory for language langID.
func (p *Problem) SubmitDir(langID int) (*filestore.Directory, error) {
	return p.Submit.GetOrCreate(langID)
}

// Run is the permanent state bundle of one run.
type Run struct {
	ID      int
	Contest *Contest

	Info     *snapshot.Slot[ejudge.RunInfo]
	Source   *snapshot.Slot[[]byte]
	Messages *snapshot.Slot[ejudge.RunMessages]

	Tests *index.Dense[*TestResult]
}

func (c *Contest) newRun(id int) *Run {
	return &Run{
		ID:       id,
		Contest:  c,
		Info:     snapshot.NewSlot[ejudge.RunInfo](),
		Source:   snapshot.NewSlot[[]byte](),
		Messages: snapshot.NewSlot[ejudge.RunMessages](),
		Tests:    index.NewDense(c.state.opts.MaxTestNum, newTestResult),
	}
}

// Test returns the bundle for test num, creating it on first use.
func (r *Run) Test(num int) (*TestResult, error) {
	if num < 1 {
		return nil, common.ErrInvalidTestNum
	}
	return r.Tests.GetOrCreate(num)
}

// TestResult holds the captured files of one test of a run.
type TestResult struct {
	Num  int
	Data [common.NumTestKinds]*snapshot.Slot[[]byte]
}

func newTestResult(num int) *TestResult {
	t := &TestResult{Num: num}
	for i := range t.Data {
		t.Data[i] = snapshot.NewSlot[[]byte]()
	}
	return t
}
