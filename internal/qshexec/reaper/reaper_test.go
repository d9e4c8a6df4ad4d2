package reaper

import (
	"bytes"
	"os/exec"
	"testing"
	"time"

	"github.com/tjper/qsh/internal/qshjob"
)

func TestReaperReapsExitedChild(t *testing.T) {
	var out bytes.Buffer
	table := qshjob.NewTable(&out)

	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	jid := table.Add(cmd.Process.Pid, 1, qshjob.Background, "true")

	r := Install(table)
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if table.FindByJid(jid) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d was not reaped", jid)
}
