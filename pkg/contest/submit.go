package contest

import (
	"context"
	"fmt"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/beam-cloud/contestfs/pkg/snapshot"
	"github.com/beam-cloud/contestfs/pkg/submit"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var _ submit.Submitter = (*State)(nil)

// Enqueue hands a staged file to the submission worker. It reports false
// once the queue has been closed.
func (st *State) Enqueue(p *Problem, langID int, dir *filestore.Directory, nodeID uint64, fileName string) bool {
	s := submit.Submission{
		ID:        uuid.New(),
		ContestID: p.Contest.ID,
		ProblemID: p.ID,
		LangID:    langID,
		NodeID:    nodeID,
		FileName:  fileName,
		Time:      st.Now(),
		Dir:       dir,
	}
	ok := st.Queue.Enqueue(s)

	log.Debug().
		Str("submission", s.ID.String()).
		Int("contest", s.ContestID).
		Int("problem", s.ProblemID).
		Int("lang", langID).
		Str("file", fileName).
		Bool("queued", ok).
		Msg("submission enqueued")
	return ok
}

// SubmitRun sends a submission to the server and expires the contest log
// so the new run shows up on the next access.
func (st *State) SubmitRun(ctx context.Context, s submit.Submission, data []byte) (int, error) {
	c, ok := st.FindContest(s.ContestID)
	if !ok {
		return 0, fmt.Errorf("contest %d: %w", s.ContestID, common.ErrNotFound)
	}

	sess, err := st.session(ctx, c)
	if err != nil {
		return 0, err
	}

	runID, err := st.remote.SubmitRun(ctx, sess, s.ProblemID, s.LangID, s.FileName, data)
	if err != nil {
		return 0, st.sessionFailed(c, err)
	}

	snapshot.Expire(c.Log, st.Now())
	return runID, nil
}
