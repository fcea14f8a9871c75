package plan

import (
	"bufio"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
)

// LsofProbe is the default OpenFileProbe: it shells out to lsof, the
// external in-use safety collaborator named in the specification. On a
// platform without lsof on PATH, NewOpenFileProbe returns no probe at all
// (which CheckInUse treats as "nothing in use"); ProcessesUsing itself
// returns an error when lsof cannot be started.
type LsofProbe struct{}

// NewOpenFileProbe returns an LsofProbe, or nil when disabled (honoring
// RV_NO_CHECK_OPEN_FILE) or when lsof isn't available on PATH -- a nil
// probe is CheckInUse's own documented no-op case.
func NewOpenFileProbe(disabled bool) OpenFileProbe {
	if disabled {
		return nil
	}
	if _, err := exec.LookPath("lsof"); err != nil {
		return nil
	}
	return LsofProbe{}
}

// ProcessesUsing reports every process with an open file handle under
// packageDir, via "lsof +D <dir>".
func (LsofProbe) ProcessesUsing(packageDir string) ([]rverrors.InUseProcess, error) {
	cmd := exec.Command("lsof", "+D", packageDir)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var procs []rverrors.InUseProcess
	seen := map[int]bool{}
	scanner := bufio.NewScanner(out)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header row: COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil || seen[pid] {
			continue
		}
		seen[pid] = true
		procs = append(procs, rverrors.InUseProcess{PID: pid, Name: fields[0]})
	}

	// lsof exits non-zero when it finds nothing open under the path; that
	// is a clean "not in use" result, not a probe failure.
	_ = cmd.Wait()
	return procs, nil
}

var _ OpenFileProbe = LsofProbe{}
