// Package scenario reads a flow description and seeds a dependency graph
// from it.
package scenario

import (
	"embed"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pingcap/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v3"

	"github.com/whacked/patflow/internal/task"
)

//go:embed schemas/scenario.schema.json
var schemaFS embed.FS

const schemaPath = "schemas/scenario.schema.json"

// FileCandidates are looked up, in order, when no scenario file is given.
var FileCandidates = []string{
	"Patflow.yaml",
	"patflow.yaml",
}

// Spec is one task as declared in the scenario file.
type Spec struct {
	ID        string
	Algorithm string      `yaml:"algorithm"`
	Params    task.Params `yaml:"params"`
	Inputs    patternList `yaml:"in"`
	Outputs   patternList `yaml:"out"`
	After     []string    `yaml:"after"`
}

// Scenario is a parsed flow description. Tasks keep their document order.
type Scenario struct {
	Workdir string
	Vars    map[string]string
	Tasks   []Spec
}

type document struct {
	Workdir string            `yaml:"workdir"`
	Vars    map[string]string `yaml:"vars"`
	Tasks   yaml.Node         `yaml:"tasks"`
}

// patternList accepts either a single pattern or a list of patterns.
type patternList []string

func (l *patternList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = patternList{value.Value}
		return nil
	}
	var items []string
	if err := value.Decode(&items); err != nil {
		return err
	}
	*l = items
	return nil
}

// Discover returns the first scenario file candidate present in dir.
func Discover(dir string) (string, error) {
	for _, candidate := range FileCandidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.Errorf("no scenario file found (tried %v)", FileCandidates)
}

// Load reads, validates and parses the scenario file at path.
func Load(path string) (*Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sc, err := Parse(src)
	return sc, errors.Annotatef(err, "scenario %s", path)
}

// Validate checks src against the embedded scenario schema.
func Validate(src []byte) error {
	var obj interface{}
	if err := yaml.Unmarshal(src, &obj); err != nil {
		return errors.Annotate(err, "read yaml")
	}
	schemaSrc, err := schemaFS.ReadFile(schemaPath)
	if err != nil {
		return errors.Trace(err)
	}
	validator, err := jsonschema.CompileString(schemaPath, string(schemaSrc))
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotate(validator.Validate(obj), "validate scenario")
}

// Parse validates src and turns it into a Scenario.
func Parse(src []byte) (*Scenario, error) {
	if err := Validate(src); err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, errors.Annotate(err, "decode scenario")
	}

	sc := &Scenario{Workdir: doc.Workdir, Vars: doc.Vars}
	tasks := doc.Tasks.Content
	for i := 0; i+1 < len(tasks); i += 2 {
		var spec Spec
		if err := tasks[i+1].Decode(&spec); err != nil {
			return nil, errors.Annotatef(err, "task %q", tasks[i].Value)
		}
		spec.ID = tasks[i].Value
		sc.Tasks = append(sc.Tasks, sc.substitute(spec))
	}
	if err := sc.check(); err != nil {
		return nil, err
	}
	return sc, nil
}

// check reports every dangling or self-referencing `after` hint at once.
func (sc *Scenario) check() error {
	known := make(map[string]bool, len(sc.Tasks))
	for _, s := range sc.Tasks {
		known[s.ID] = true
	}
	var errs error
	for _, s := range sc.Tasks {
		for _, dep := range s.After {
			switch {
			case dep == s.ID:
				errs = multierr.Append(errs, errors.Errorf("task %q lists itself in after", s.ID))
			case !known[dep]:
				errs = multierr.Append(errs, errors.Errorf("task %q: unknown task %q in after", s.ID, dep))
			}
		}
	}
	return errs
}

var varRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitute expands ${NAME} from the scenario vars, then the process
// environment. Bare `$digit` pattern variables are left alone.
func (sc *Scenario) substitute(s Spec) Spec {
	expand := func(v string) string {
		return varRe.ReplaceAllStringFunc(v, func(m string) string {
			name := varRe.FindStringSubmatch(m)[1]
			if val, ok := sc.Vars[name]; ok {
				return val
			}
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			return m
		})
	}
	for i, in := range s.Inputs {
		s.Inputs[i] = expand(in)
	}
	for i, out := range s.Outputs {
		s.Outputs[i] = expand(out)
	}
	for k, v := range s.Params {
		s.Params[k] = expand(v)
	}
	return s
}
