package common

// TestKind names one of the files captured for a single test of a run.
type TestKind int

const (
	TestInput TestKind = iota
	TestOutput
	TestCorrect
	TestStderr
	TestChecker
	NumTestKinds
)

var testKindNames = [NumTestKinds]string{
	TestInput:   "input",
	TestOutput:  "output",
	TestCorrect: "correct",
	TestStderr:  "stderr",
	TestChecker: "checker",
}

func (k TestKind) String() string {
	if k < 0 || k >= NumTestKinds {
		return "unknown"
	}
	return testKindNames[k]
}

// ParseTestKind maps a file name to its TestKind.
func ParseTestKind(name string) (TestKind, bool) {
	for k, n := range testKindNames {
		if n == name {
			return TestKind(k), true
		}
	}
	return 0, false
}

// TestKinds returns all kinds in file listing order.
func TestKinds() []TestKind {
	kinds := make([]TestKind, NumTestKinds)
	for i := range kinds {
		kinds[i] = TestKind(i)
	}
	return kinds
}
