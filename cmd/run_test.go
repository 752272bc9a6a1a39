package cmd_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrife/crossquery/cmd"
	"github.com/spf13/viper"
)

type line struct {
	QueryID      string            `json:"queryId"`
	Page         int               `json:"page"`
	Items        int               `json:"items"`
	Continuation string            `json:"continuation"`
	Documents    []json.RawMessage `json:"documents"`
	Done         bool              `json:"done"`
}

func execute(t *testing.T, args ...string) (string, string) {
	t.Helper()

	viper.Reset()

	command := cmd.NewCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	command.SetOut(stdout)
	command.SetErr(stderr)
	command.SetArgs(append(args, "--log-level", "error"))

	if err := command.Execute(); err != nil {
		t.Fatalf("could not execute %v: %s\n%s", args, err, stderr.String())
	}

	return stdout.String(), stderr.String()
}

func lines(t *testing.T, out string) []line {
	t.Helper()

	result := []line{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 1<<20), 1<<24)

	for scanner.Scan() {
		var l line

		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			t.Fatalf("could not decode line %s: %s", scanner.Text(), err)
		}

		result = append(result, l)
	}

	return result
}

func documentIDs(t *testing.T, pages []line) []string {
	t.Helper()

	ids := []string{}

	for _, page := range pages {
		for _, doc := range page.Documents {
			var v struct {
				ID string `json:"id"`
			}

			if err := json.Unmarshal(doc, &v); err != nil {
				t.Fatalf("could not decode document: %s", err)
			}

			ids = append(ids, v.ID)
		}
	}

	return ids
}

func TestRunResume(t *testing.T) {
	checkpoints := filepath.Join(t.TempDir(), "xpq.db")
	args := []string{"run", "--checkpoints", checkpoints, "--query-id", "q1", "--documents", "120", "--partitions", "3", "--page-size", "9", "--split-every", "2"}

	out, _ := execute(t, append(args, "--max-pages", "4")...)
	first := lines(t, out)

	if len(first) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(first))
	}

	out, _ = execute(t, args...)
	rest := lines(t, out)

	if len(rest) == 0 || rest[0].Page != 5 {
		t.Fatalf("expected the resumed query to continue at page 5, got %+v", rest)
	}

	seen := map[string]int{}

	for _, id := range documentIDs(t, append(first, rest...)) {
		seen[id]++
	}

	for i := 0; i < 120; i++ {
		if id := fmt.Sprintf("doc-%06d", i); seen[id] != 1 {
			t.Fatalf("expected %s exactly once, saw it %d times", id, seen[id])
		}
	}

	out, stderr := execute(t, args...)

	if out != "" || !strings.Contains(stderr, "already completed") {
		t.Fatalf("expected completed query not to run again, got %q %q", out, stderr)
	}

	out, _ = execute(t, "checkpoints", "list", "--checkpoints", checkpoints)
	listed := lines(t, out)

	if len(listed) != 1 || listed[0].QueryID != "q1" || !listed[0].Done {
		t.Fatalf("expected a single completed checkpoint, got %+v", listed)
	}

	execute(t, "checkpoints", "delete", "q1", "--checkpoints", checkpoints)
	out, _ = execute(t, "checkpoints", "list", "--checkpoints", checkpoints)

	if out != "" {
		t.Fatalf("expected no checkpoints, got %s", out)
	}
}

func TestRunTop(t *testing.T) {
	checkpoints := filepath.Join(t.TempDir(), "xpq.db")
	out, _ := execute(t, "run", "--checkpoints", checkpoints, "--documents", "100", "--page-size", "4", "--top", "15", "--ordering", "response")
	pages := lines(t, out)

	if ids := documentIDs(t, pages); len(ids) != 15 {
		t.Fatalf("expected 15 documents, got %d", len(ids))
	}

	if last := pages[len(pages)-1]; last.Continuation != "" {
		t.Fatalf("expected last page to have no continuation, got %s", last.Continuation)
	}
}

func TestRunInvalidOrdering(t *testing.T) {
	viper.Reset()

	command := cmd.NewCommand()
	command.SetOut(&bytes.Buffer{})
	command.SetErr(&bytes.Buffer{})
	command.SetArgs([]string{"run", "--checkpoints", filepath.Join(t.TempDir(), "xpq.db"), "--ordering", "sorted"})

	if err := command.Execute(); err == nil {
		t.Fatalf("expected an invalid ordering to fail")
	}
}
