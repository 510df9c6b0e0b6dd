package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlanCommandPretty(t *testing.T) {
	dir := workspace(t, "buildgate.yml")
	chdir(t, dir)

	out, _, err := execute(t, "plan", "--event", "push", "--branch", "master", "--commit", "0123456789abcdef0123")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}

	want := readGolden(t, filepath.Join(testdataDir(t), "golden", "plan_accepted.txt"))
	if diff := diffStrings(want, out); diff != "" {
		t.Fatalf("unexpected output:\n%s", diff)
	}
}

func TestPlanCommandJSONIgnoredBranch(t *testing.T) {
	dir := workspace(t, "buildgate.yml")
	chdir(t, dir)

	out, _, err := execute(t, "plan", "--event", "pull_request", "--branch", "develop", "--format", "json")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}

	var got struct {
		Plan struct {
			Accepted bool   `json:"accepted"`
			Reason   string `json:"reason"`
			Steps    []struct {
				Name string `json:"name"`
			} `json:"steps"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if got.Plan.Accepted {
		t.Fatalf("develop should not be accepted")
	}
	if !strings.Contains(got.Plan.Reason, `"develop"`) {
		t.Fatalf("reason should name the branch, got %q", got.Plan.Reason)
	}
	if len(got.Plan.Steps) != 3 {
		t.Fatalf("expected 3 planned steps, got %d", len(got.Plan.Steps))
	}
}

func TestPlanCommandWithoutEvent(t *testing.T) {
	dir := workspace(t, "buildgate.yml")
	chdir(t, dir)
	stubEnv(t, nil)

	out, _, err := execute(t, "plan")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.Contains(out, "Trigger ignored: no event given") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestPlanImportsWorkflowTriggers(t *testing.T) {
	dir := workspace(t, "notriggers.yml")
	writeTestdata(t, "ci.yml", filepath.Join(dir, ".github", "workflows", "ci.yml"))
	chdir(t, dir)

	out, _, err := execute(t, "plan", "--event", "push", "--branch", "release/1.2")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.Contains(out, "Trigger accepted") {
		t.Fatalf("release branch should match imported glob:\n%s", out)
	}

	out, _, err = execute(t, "plan", "--event", "pull_request", "--branch", "release/1.2")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.Contains(out, "Trigger ignored") {
		t.Fatalf("pull requests only target main:\n%s", out)
	}
}

func TestPlanExplicitConfigFlag(t *testing.T) {
	dir := t.TempDir()
	writeTestdata(t, "buildgate.yml", filepath.Join(dir, "ci", "pipeline.yml"))
	chdir(t, dir)

	out, _, err := execute(t, "plan", "--config", "ci/pipeline.yml", "--event", "push", "--branch", "master", "--commit", "abc")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.HasPrefix(out, "Pipeline svc ("+filepath.Join("ci", "pipeline.yml")+")\n") {
		t.Fatalf("unexpected header:\n%s", out)
	}
}

func TestPlanRejectsUnknownFormat(t *testing.T) {
	dir := workspace(t, "buildgate.yml")
	chdir(t, dir)

	if _, _, err := execute(t, "plan", "--event", "push", "--branch", "master", "--format", "xml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestPlanWithoutConfigFails(t *testing.T) {
	chdir(t, t.TempDir())

	_, _, err := execute(t, "plan", "--event", "push", "--branch", "master")
	if err == nil {
		t.Fatalf("expected error without steps")
	}
	if exitStatus(err) != 2 {
		t.Fatalf("configuration errors exit 2, got %d", exitStatus(err))
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// workspace creates a temp repository root holding testdata/<config> as
// .buildgate.yml.
func workspace(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	writeTestdata(t, config, filepath.Join(dir, ".buildgate.yml"))
	return dir
}

func writeTestdata(t *testing.T, name, dst string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(testdataDir(t), name))
	if err != nil {
		t.Fatalf("read testdata %q: %v", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("mkdir %q: %v", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		t.Fatalf("write %q: %v", dst, err)
	}
}

// testdataRoot is resolved at init, before any test changes directory.
var testdataRoot, _ = filepath.Abs("testdata")

func testdataDir(t *testing.T) string {
	t.Helper()
	if testdataRoot == "" {
		t.Fatalf("testdata directory not resolved")
	}
	return testdataRoot
}

func stubEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	prev := getenv
	getenv = func(key string) string { return vars[key] }
	t.Cleanup(func() { getenv = prev })
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %q: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	})
}

func readGolden(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden %q: %v", path, err)
	}
	return string(data)
}

func diffStrings(want, got string) string {
	if want == got {
		return ""
	}
	return "--- want\n" + want + "\n--- got\n" + got
}
