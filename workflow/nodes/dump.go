package nodes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/reportgen/workflow"
)

// ContextDumper writes the context an agent sends to the model under
// <dir>/Report_<id>/<agent>_<stage>.txt. A nil dumper writes nothing.
type ContextDumper struct {
	dir string
}

// NewContextDumper creates a dumper rooted at dir.
func NewContextDumper(dir string) *ContextDumper {
	return &ContextDumper{dir: dir}
}

// Dump writes messages for one agent stage. Failures are returned for the
// caller to log; they never stop a run.
func (d *ContextDumper) Dump(reportID, agent, stage string, messages []workflow.Message) error {
	if d == nil {
		return nil
	}
	if reportID == "" {
		reportID = "unsaved"
	}
	dir := filepath.Join(d.dir, "Report_"+reportID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}

	var b strings.Builder
	for i, m := range messages {
		fmt.Fprintf(&b, "=== [%d] %s", i, strings.ToUpper(m.Role))
		if m.Name != "" {
			fmt.Fprintf(&b, " (%s)", m.Name)
		}
		b.WriteString(" ===\n")
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		for _, c := range m.ToolCalls {
			fmt.Fprintf(&b, "-> %s %v\n", c.Name, c.Arguments)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(dir, agent+"_"+stage+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}
