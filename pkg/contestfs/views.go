package contestfs

import (
	"context"
	"path"
	"strconv"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/beam-cloud/contestfs/pkg/render"
	mapset "github.com/deckarep/golang-set/v2"
)

func parseID(name string) (int, error) {
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 || strconv.Itoa(id) != name {
		return 0, common.ErrNotFound
	}
	return id, nil
}

func staticList(names []string, dirs map[string]bool) []dirent {
	out := make([]dirent, len(names))
	for i, name := range names {
		out[i] = dirent{name: name, dir: dirs[name]}
	}
	return out
}

const contestsFile = "contests"

// rootShape lists the contests visible to the account.
type rootShape struct {
	fsys *FileSystem
}

func (s *rootShape) contests(ctx context.Context) ([]ejudge.ContestBrief, error) {
	st := s.fsys.state
	snap, err := populated(ctx, st.UpdateContestList, st.ContestListSlot())
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.Value, nil
}

func (s *rootShape) list(ctx context.Context) ([]dirent, error) {
	contests, err := s.contests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dirent, 0, len(contests)+1)
	out = append(out, dirent{name: contestsFile})
	for _, c := range contests {
		out = append(out, dirent{name: strconv.Itoa(c.ID), dir: true})
	}
	return out, nil
}

func (s *rootShape) lookup(ctx context.Context, name string) (child, error) {
	if name == contestsFile {
		st := s.fsys.state
		return child{content: rendered(s.fsys, "/"+contestsFile, st.UpdateContestList, st.ContestListSlot(), render.Contests)}, nil
	}
	id, err := parseID(name)
	if err != nil {
		return child{}, err
	}
	contests, err := s.contests(ctx)
	if err != nil {
		return child{}, err
	}
	for _, c := range contests {
		if c.ID == id {
			return child{shape: &contestShape{fsys: s.fsys, c: s.fsys.state.Contest(id)}}, nil
		}
	}
	return child{}, common.ErrNotFound
}

// contestShape is /<contest>.
type contestShape struct {
	fsys *FileSystem
	c    *contest.Contest
}

var contestEntries = []string{"info", "log", "problems", "runs"}

func (s *contestShape) list(ctx context.Context) ([]dirent, error) {
	return staticList(contestEntries, map[string]bool{"problems": true, "runs": true}), nil
}

func (s *contestShape) lookup(ctx context.Context, name string) (child, error) {
	st, c := s.fsys.state, s.c
	base := "/" + strconv.Itoa(c.ID)
	switch name {
	case "info":
		update := func(ctx context.Context) bool { return st.UpdateContestInfo(ctx, c) }
		return child{content: rendered(s.fsys, path.Join(base, name), update, c.Info, render.ContestInfo)}, nil
	case "log":
		update := func(ctx context.Context) bool { return st.UpdateLog(ctx, c) }
		return child{content: rendered(s.fsys, path.Join(base, name), update, c.Log, render.Log)}, nil
	case "problems":
		return child{shape: &problemsShape{fsys: s.fsys, c: c}}, nil
	case "runs":
		return child{shape: &runsShape{fsys: s.fsys, c: c}}, nil
	}
	return child{}, common.ErrNotFound
}

func contestInfo(ctx context.Context, st *contest.State, c *contest.Contest) (ejudge.ContestInfo, error) {
	update := func(ctx context.Context) bool { return st.UpdateContestInfo(ctx, c) }
	snap, err := populated(ctx, update, c.Info)
	if err != nil {
		return ejudge.ContestInfo{}, err
	}
	defer snap.Release()
	return snap.Value, nil
}

// problemsShape is /<contest>/problems.
type problemsShape struct {
	fsys *FileSystem
	c    *contest.Contest
}

func (s *problemsShape) list(ctx context.Context) ([]dirent, error) {
	info, err := contestInfo(ctx, s.fsys.state, s.c)
	if err != nil {
		return nil, err
	}
	out := make([]dirent, 0, len(info.Problems))
	for _, p := range info.Problems {
		out = append(out, dirent{name: strconv.Itoa(p.ID), dir: true})
	}
	return out, nil
}

func (s *problemsShape) lookup(ctx context.Context, name string) (child, error) {
	id, err := parseID(name)
	if err != nil {
		return child{}, err
	}
	info, err := contestInfo(ctx, s.fsys.state, s.c)
	if err != nil {
		return child{}, err
	}
	for _, p := range info.Problems {
		if p.ID != id {
			continue
		}
		problem, err := s.c.Problem(id)
		if err != nil {
			return child{}, err
		}
		return child{shape: &problemShape{fsys: s.fsys, p: problem}}, nil
	}
	return child{}, common.ErrNotFound
}

// problemShape is /<contest>/problems/<problem>.
type problemShape struct {
	fsys *FileSystem
	p    *contest.Problem
}

var problemEntries = []string{"info", "statement.html", "submit"}

func (s *problemShape) base() string {
	return path.Join("/", strconv.Itoa(s.p.Contest.ID), "problems", strconv.Itoa(s.p.ID))
}

func (s *problemShape) list(ctx context.Context) ([]dirent, error) {
	return staticList(problemEntries, map[string]bool{"submit": true}), nil
}

func (s *problemShape) lookup(ctx context.Context, name string) (child, error) {
	st, p := s.fsys.state, s.p
	switch name {
	case "info":
		update := func(ctx context.Context) bool { return st.UpdateProblemInfo(ctx, p) }
		return child{content: rendered(s.fsys, path.Join(s.base(), name), update, p.Info, render.ProblemInfo)}, nil
	case "statement.html":
		update := func(ctx context.Context) bool { return st.UpdateStatement(ctx, p) }
		return child{content: raw(update, p.Statement)}, nil
	case "submit":
		return child{shape: &submitShape{fsys: s.fsys, p: p}}, nil
	}
	return child{}, common.ErrNotFound
}

// submitShape is /<contest>/problems/<problem>/submit, one staging
// directory per language the problem accepts.
type submitShape struct {
	fsys *FileSystem
	p    *contest.Problem
}

func (s *submitShape) languages(ctx context.Context) ([]ejudge.Language, error) {
	st, p := s.fsys.state, s.p
	info, err := contestInfo(ctx, st, p.Contest)
	if err != nil {
		return nil, err
	}

	update := func(ctx context.Context) bool { return st.UpdateProblemInfo(ctx, p) }
	snap, err := populated(ctx, update, p.Info)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	if !snap.Value.IsSubmittable {
		return nil, nil
	}
	if len(snap.Value.Languages) == 0 {
		return info.Languages, nil
	}

	allowed := mapset.NewThreadUnsafeSet(snap.Value.Languages...)
	var out []ejudge.Language
	for _, l := range info.Languages {
		if allowed.Contains(l.ID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *submitShape) list(ctx context.Context) ([]dirent, error) {
	langs, err := s.languages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dirent, 0, len(langs))
	for _, l := range langs {
		out = append(out, dirent{name: l.ShortName, dir: true})
	}
	return out, nil
}

func (s *submitShape) lookup(ctx context.Context, name string) (child, error) {
	langs, err := s.languages(ctx)
	if err != nil {
		return child{}, err
	}
	for _, l := range langs {
		if l.ShortName != name {
			continue
		}
		dir, err := s.p.SubmitDir(l.ID)
		if err != nil {
			return child{}, err
		}
		return child{staging: &stagingDir{problem: s.p, langID: l.ID, dir: dir}}, nil
	}
	return child{}, common.ErrNotFound
}

// runsShape is /<contest>/runs, listing the runs of the contest log.
type runsShape struct {
	fsys *FileSystem
	c    *contest.Contest
}

func (s *runsShape) runs(ctx context.Context) ([]ejudge.RunBrief, error) {
	st, c := s.fsys.state, s.c
	update := func(ctx context.Context) bool { return st.UpdateLog(ctx, c) }
	snap, err := populated(ctx, update, c.Log)
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.Value.Runs, nil
}

func (s *runsShape) list(ctx context.Context) ([]dirent, error) {
	runs, err := s.runs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dirent, 0, len(runs))
	for _, r := range runs {
		out = append(out, dirent{name: strconv.Itoa(r.RunID), dir: true})
	}
	return out, nil
}

func (s *runsShape) lookup(ctx context.Context, name string) (child, error) {
	id, err := parseID(name)
	if err != nil {
		return child{}, err
	}
	runs, err := s.runs(ctx)
	if err != nil {
		return child{}, err
	}
	for _, r := range runs {
		if r.RunID == id {
			return child{shape: &runShape{fsys: s.fsys, r: s.c.Run(id)}}, nil
		}
	}
	return child{}, common.ErrNotFound
}

// runShape is /<contest>/runs/<run>.
type runShape struct {
	fsys *FileSystem
	r    *contest.Run
}

var runEntries = []string{"info", "source", "messages", "tests"}

func (s *runShape) base() string {
	return path.Join("/", strconv.Itoa(s.r.Contest.ID), "runs", strconv.Itoa(s.r.ID))
}

func (s *runShape) list(ctx context.Context) ([]dirent, error) {
	return staticList(runEntries, map[string]bool{"tests": true}), nil
}

func (s *runShape) lookup(ctx context.Context, name string) (child, error) {
	st, r := s.fsys.state, s.r
	switch name {
	case "info":
		update := func(ctx context.Context) bool { return st.UpdateRunInfo(ctx, r) }
		return child{content: rendered(s.fsys, path.Join(s.base(), name), update, r.Info, render.RunInfo)}, nil
	case "source":
		update := func(ctx context.Context) bool { return st.UpdateRunSource(ctx, r) }
		return child{content: raw(update, r.Source)}, nil
	case "messages":
		update := func(ctx context.Context) bool { return st.UpdateRunMessages(ctx, r) }
		return child{content: rendered(s.fsys, path.Join(s.base(), name), update, r.Messages, render.Messages)}, nil
	case "tests":
		return child{shape: &testsShape{fsys: s.fsys, r: r}}, nil
	}
	return child{}, common.ErrNotFound
}

func runInfo(ctx context.Context, st *contest.State, r *contest.Run) (ejudge.RunInfo, error) {
	update := func(ctx context.Context) bool { return st.UpdateRunInfo(ctx, r) }
	snap, err := populated(ctx, update, r.Info)
	if err != nil {
		return ejudge.RunInfo{}, err
	}
	defer snap.Release()
	return snap.Value, nil
}

// testsShape is /<contest>/runs/<run>/tests.
type testsShape struct {
	fsys *FileSystem
	r    *contest.Run
}

func (s *testsShape) list(ctx context.Context) ([]dirent, error) {
	info, err := runInfo(ctx, s.fsys.state, s.r)
	if err != nil {
		return nil, err
	}
	out := make([]dirent, 0, len(info.Tests))
	for _, t := range info.Tests {
		out = append(out, dirent{name: strconv.Itoa(t.Num), dir: true})
	}
	return out, nil
}

func (s *testsShape) lookup(ctx context.Context, name string) (child, error) {
	num, err := parseID(name)
	if err != nil {
		return child{}, err
	}
	info, err := runInfo(ctx, s.fsys.state, s.r)
	if err != nil {
		return child{}, err
	}
	result, ok := info.Test(num)
	if !ok {
		return child{}, common.ErrNotFound
	}
	t, err := s.r.Test(num)
	if err != nil {
		return child{}, err
	}
	return child{shape: &testShape{fsys: s.fsys, r: s.r, t: t, kinds: testKinds(result)}}, nil
}

// testKinds lists the files a test offers. A result that names no files
// offers every kind.
func testKinds(result ejudge.TestResult) []common.TestKind {
	if len(result.Files) == 0 {
		return common.TestKinds()
	}
	return render.TestFiles(result)
}

// testShape is /<contest>/runs/<run>/tests/<n>.
type testShape struct {
	fsys  *FileSystem
	r     *contest.Run
	t     *contest.TestResult
	kinds []common.TestKind
}

func (s *testShape) list(ctx context.Context) ([]dirent, error) {
	out := make([]dirent, 0, len(s.kinds))
	for _, k := range s.kinds {
		out = append(out, dirent{name: k.String()})
	}
	return out, nil
}

func (s *testShape) lookup(ctx context.Context, name string) (child, error) {
	kind, ok := common.ParseTestKind(name)
	if !ok {
		return child{}, common.ErrNotFound
	}
	for _, k := range s.kinds {
		if k != kind {
			continue
		}
		st, r, t := s.fsys.state, s.r, s.t
		update := func(ctx context.Context) bool { return st.UpdateTestData(ctx, r, t, kind) }
		return child{content: raw(update, t.Data[kind])}, nil
	}
	return child{}, common.ErrNotFound
}
