package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/beam-cloud/contestfs/pkg/common"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/dustin/go-humanize"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).UTC().Format(timeLayout)
}

func field(b *bytes.Buffer, name string, value any) {
	fmt.Fprintf(b, "%s: %v\n", name, value)
}

// Contests lists the contests available to the account.
func Contests(contests []ejudge.ContestBrief) []byte {
	var b bytes.Buffer
	for _, c := range contests {
		fmt.Fprintf(&b, "%d\t%s\n", c.ID, c.Name)
	}
	return b.Bytes()
}

func ContestInfo(info ejudge.ContestInfo) []byte {
	var b bytes.Buffer
	field(&b, "id", info.ID)
	field(&b, "name", info.Name)
	field(&b, "server_time", formatTime(info.ServerTime))
	field(&b, "start_time", formatTime(info.StartTime))
	if info.Duration > 0 {
		field(&b, "duration", time.Duration(info.Duration)*time.Second)
	} else {
		field(&b, "duration", "unlimited")
	}

	if len(info.Problems) > 0 {
		b.WriteString("\nproblems:\n")
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		for _, p := range info.Problems {
			fmt.Fprintf(w, "  %d\t%s\t%s\n", p.ID, p.ShortName, p.LongName)
		}
		w.Flush()
	}

	if len(info.Languages) > 0 {
		b.WriteString("\nlanguages:\n")
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		for _, l := range info.Languages {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", l.ID, l.ShortName, l.SrcSuffix, l.LongName)
		}
		w.Flush()
	}
	return b.Bytes()
}

// Log renders the run log, one run per line, oldest first.
func Log(runs ejudge.RunLog) []byte {
	var b bytes.Buffer
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "run\tproblem\tlang\tstatus\tscore\ttime")
	for _, r := range runs.Runs {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%d\t%s\n",
			r.RunID, r.ProblemID, r.LangID, ejudge.StatusName(r.Status), r.Score, formatTime(r.SubmitTime))
	}
	w.Flush()
	return b.Bytes()
}

func ProblemInfo(p ejudge.ProblemInfo) []byte {
	var b bytes.Buffer
	field(&b, "id", p.ID)
	field(&b, "short_name", p.ShortName)
	field(&b, "long_name", p.LongName)
	if p.TimeLimitMs > 0 {
		field(&b, "time_limit", time.Duration(p.TimeLimitMs)*time.Millisecond)
	}
	if p.MemoryLimit > 0 {
		field(&b, "memory_limit", humanize.IBytes(uint64(p.MemoryLimit)))
	}
	if p.InputFile != "" {
		field(&b, "input_file", p.InputFile)
	}
	if p.OutputFile != "" {
		field(&b, "output_file", p.OutputFile)
	}
	if p.MaxScore > 0 {
		field(&b, "max_score", p.MaxScore)
	}
	field(&b, "submittable", p.IsSubmittable)
	return b.Bytes()
}

func RunInfo(r ejudge.RunInfo) []byte {
	var b bytes.Buffer
	field(&b, "run_id", r.RunID)
	field(&b, "problem", r.ProblemID)
	field(&b, "lang", r.LangID)
	field(&b, "status", ejudge.StatusName(r.Status))
	field(&b, "score", r.Score)
	field(&b, "passed_tests", r.Passed)
	if r.FailedTest > 0 {
		field(&b, "failed_test", r.FailedTest)
	}
	field(&b, "size", humanize.IBytes(uint64(r.Size)))
	field(&b, "submitted", formatTime(r.SubmitTime))

	if len(r.Tests) > 0 {
		b.WriteString("\ntests:\n")
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		for _, t := range r.Tests {
			fmt.Fprintf(w, "  %d\t%s\t%dms\t%d/%d\n", t.Num, ejudge.StatusName(t.Status), t.TimeMs, t.Score, t.MaxScore)
		}
		w.Flush()
	}

	if r.Compiler != "" {
		b.WriteString("\ncompiler output:\n")
		b.WriteString(r.Compiler)
		if !strings.HasSuffix(r.Compiler, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

func Messages(m ejudge.RunMessages) []byte {
	var b bytes.Buffer
	for i, msg := range m.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "#%d %s from %s\n", msg.ID, formatTime(msg.Time), msg.From)
		if msg.Subject != "" {
			field(&b, "subject", msg.Subject)
		}
		b.WriteString(msg.Text)
		if msg.Text != "" && !strings.HasSuffix(msg.Text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

// TestFiles returns the kinds of captured files a test result offers.
func TestFiles(t ejudge.TestResult) []common.TestKind {
	var kinds []common.TestKind
	for _, f := range t.Files {
		k := common.TestKind(f)
		if k >= 0 && k < common.NumTestKinds {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
