package projects

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const registryYAML = `projects:
  - name: job-scraper
    path: /home/op/projects/scraper
    description: Scrapes job boards and writes a CSV
    commands:
      scrape: "python3 scrape.py --keyword {keyword}"
    venv: /home/op/projects/scraper/venv
    timeout: 300
    triggers:
      - "job scraper"
      - "scrape jobs"
  - name: reporting
    path: /home/op/projects/reports
    description: |
      Builds the weekly client report.
      Needs an uploaded spreadsheet.
    commands:
      report: "python3 report.py --client {client} --file {file}"
    requires_file: true
    timeout: 600
    triggers:
      - "weekly report"
      - "report"
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRegistryLoadsProjects(t *testing.T) {
	r := testRegistry(t)
	all := r.All()
	if len(all) != 2 {
		t.Fatalf("projects = %d, want 2", len(all))
	}
	scraper := all[0]
	if scraper.Name != "job-scraper" || scraper.TimeoutSecs != 300 {
		t.Errorf("scraper = %+v", scraper)
	}
	if scraper.Commands["scrape"] != "python3 scrape.py --keyword {keyword}" {
		t.Errorf("command template = %q", scraper.Commands["scrape"])
	}
	if !all[1].RequiresFile {
		t.Errorf("requires_file not parsed")
	}
}

func TestMatchLongestTriggerWins(t *testing.T) {
	r := testRegistry(t)

	// "weekly report" (reporting) is longer than "job scraper" is
	// irrelevant here; within reporting, the longer trigger scores.
	p, ok := r.Match("please run the WEEKLY REPORT for acme")
	if !ok || p.Name != "reporting" {
		t.Fatalf("match = %v %v", p.Name, ok)
	}

	p, ok = r.Match("fire up the job scraper")
	if !ok || p.Name != "job-scraper" {
		t.Fatalf("match = %v %v", p.Name, ok)
	}

	if _, ok := r.Match("bake me a cake"); ok {
		t.Error("no trigger should match")
	}
}

func TestMatchPrefersMoreSpecificProject(t *testing.T) {
	r := testRegistry(t)
	// Both projects match: "scrape jobs" (job-scraper, 11 chars) and
	// "weekly report" (reporting, 13 chars); the longer trigger wins.
	p, ok := r.Match("scrape jobs for the weekly report")
	if !ok || p.Name != "reporting" {
		t.Fatalf("match = %v %v", p.Name, ok)
	}
}

func TestMissingRegistryIsEmptyNotError(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.All()) != 0 {
		t.Errorf("missing registry should yield no projects")
	}
	if _, ok := r.Match("anything"); ok {
		t.Errorf("empty registry must not match")
	}
}

func TestContextFormatting(t *testing.T) {
	r := testRegistry(t)
	ctx := Context(r.All()[1])
	for _, want := range []string{"reporting", "/home/op/projects/reports", "requires a file upload", "Timeout: 600s", "report.py"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q:\n%s", want, ctx)
		}
	}
}

func TestSummaryOneLinePerProject(t *testing.T) {
	r := testRegistry(t)
	summary := r.Summary()
	if !strings.Contains(summary, "job-scraper") || !strings.Contains(summary, "reporting") {
		t.Errorf("summary missing projects:\n%s", summary)
	}
	// Multi-line descriptions are collapsed to their first line.
	if strings.Contains(summary, "Needs an uploaded spreadsheet") {
		t.Errorf("summary should use only the first description line:\n%s", summary)
	}
}
