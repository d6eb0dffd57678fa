package ejudge

import "time"

// Run status codes as reported by the server.
const (
	StatusOK            = 0
	StatusCompileError  = 1
	StatusRunTimeError  = 2
	StatusTimeLimit     = 3
	StatusPresentation  = 4
	StatusWrongAnswer   = 5
	StatusCheckFailed   = 6
	StatusPartial       = 7
	StatusAccepted      = 8
	StatusIgnored       = 9
	StatusDisqualified  = 10
	StatusPending       = 11
	StatusMemoryLimit   = 12
	StatusSecurity      = 13
	StatusStyle         = 14
	StatusWallTime      = 15
	StatusPendingReview = 16
	StatusRejected      = 17
	StatusSkipped       = 18

	// Codes from StatusTransientFirst up are in-flight states.
	StatusTransientFirst = 95
	StatusRunning        = 96
	StatusCompiled       = 97
	StatusCompiling      = 98
	StatusAvailable      = 99
)

var statusNames = map[int]string{
	StatusOK:            "OK",
	StatusCompileError:  "CE",
	StatusRunTimeError:  "RT",
	StatusTimeLimit:     "TL",
	StatusPresentation:  "PE",
	StatusWrongAnswer:   "WA",
	StatusCheckFailed:   "CF",
	StatusPartial:       "PT",
	StatusAccepted:      "AC",
	StatusIgnored:       "IG",
	StatusDisqualified:  "DQ",
	StatusPending:       "PD",
	StatusMemoryLimit:   "ML",
	StatusSecurity:      "SE",
	StatusStyle:         "SV",
	StatusWallTime:      "WT",
	StatusPendingReview: "PR",
	StatusRejected:      "RJ",
	StatusSkipped:       "SK",
	StatusRunning:       "RU",
	StatusCompiled:      "CD",
	StatusCompiling:     "CG",
	StatusAvailable:     "AV",
}

func StatusName(status int) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return "??"
}

type ContestBrief struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Session struct {
	ContestID int    `json:"contest_id"`
	SID       string `json:"SID"`
	EJSID     string `json:"EJSID"`
	Expire    int64  `json:"expire"`
}

func (s Session) ExpiresAt() time.Time {
	return time.Unix(s.Expire, 0)
}

type Language struct {
	ID        int    `json:"id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	SrcSuffix string `json:"src_sfx"`
}

type ProblemBrief struct {
	ID        int    `json:"id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
}

type ContestInfo struct {
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	ServerTime int64          `json:"server_time"`
	StartTime  int64          `json:"start_time"`
	Duration   int64          `json:"duration"`
	Problems   []ProblemBrief `json:"problems"`
	Languages  []Language     `json:"compilers"`
}

// Language returns the compiler with the given short name.
func (c ContestInfo) Language(shortName string) (Language, bool) {
	for _, l := range c.Languages {
		if l.ShortName == shortName {
			return l, true
		}
	}
	return Language{}, false
}

type RunBrief struct {
	RunID      int   `json:"run_id"`
	ProblemID  int   `json:"prob_id"`
	LangID     int   `json:"lang_id"`
	Status     int   `json:"status"`
	Score      int   `json:"score"`
	SubmitTime int64 `json:"run_time"`
}

// RunLog is the list of runs of the logged-in user, newest last.
type RunLog struct {
	Runs []RunBrief `json:"runs"`
}

type ProblemInfo struct {
	ID            int    `json:"id"`
	ShortName     string `json:"short_name"`
	LongName      string `json:"long_name"`
	TimeLimitMs   int    `json:"time_limit_ms"`
	MemoryLimit   int64  `json:"max_vm_size"`
	InputFile     string `json:"input_file"`
	OutputFile    string `json:"output_file"`
	MaxScore      int    `json:"full_score"`
	IsSubmittable bool   `json:"is_submittable"`
	IsTabulated   bool   `json:"is_tabulated"`
	HasStatement  bool   `json:"is_statement_avaiable"`
	Languages     []int  `json:"compilers"`
}

type TestResult struct {
	Num      int   `json:"num"`
	Status   int   `json:"status"`
	TimeMs   int   `json:"time_ms"`
	Score    int   `json:"score"`
	MaxScore int   `json:"max_score"`
	Files    []int `json:"files"`
}

type RunInfo struct {
	RunID      int          `json:"run_id"`
	ProblemID  int          `json:"prob_id"`
	LangID     int          `json:"lang_id"`
	Status     int          `json:"status"`
	Score      int          `json:"score"`
	Passed     int          `json:"passed_tests"`
	FailedTest int          `json:"failed_test"`
	Size       int          `json:"size"`
	SubmitTime int64        `json:"run_time"`
	Compiler   string       `json:"compiler_output"`
	Tests      []TestResult `json:"tests"`
}

// Settled reports whether the run reached a final verdict.
func (r RunInfo) Settled() bool {
	switch {
	case r.Status >= StatusTransientFirst:
		return false
	case r.Status == StatusPending, r.Status == StatusPendingReview:
		return false
	}
	return true
}

// Test returns the result for test num.
func (r RunInfo) Test(num int) (TestResult, bool) {
	for _, t := range r.Tests {
		if t.Num == num {
			return t, true
		}
	}
	return TestResult{}, false
}

type Message struct {
	ID      int    `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Time    int64  `json:"time"`
}

type RunMessages struct {
	Messages []Message `json:"messages"`
}

type SubmitResult struct {
	RunID int `json:"run_id"`
}
