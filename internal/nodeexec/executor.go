// Package nodeexec is the Node Executor (§4.D): it resolves an AtomicNode's
// declared inputs from the Knowledge Layer, invokes the node's subprocess
// script, validates and parses its JSON stdout, and turns the result into
// ground triples -- one per declared OutputParameter the script returned,
// plus whatever the script's own `_rdf_instructions` payload describes.
package nodeexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg"
)

const stderrTailBytes = 8 * 1024

// Config controls subprocess invocation.
type Config struct {
	// Timeout bounds a single node's subprocess run; zero means no
	// per-node timeout beyond whatever the caller's ctx already carries.
	Timeout time.Duration

	// EnvAllowlist names the environment variables forwarded to a node's
	// subprocess; the rest of the parent environment is withheld. Empty
	// means no variables are forwarded.
	EnvAllowlist []string

	// KillGrace is how long a subprocess is given to exit on its own
	// after its context is cancelled before it is sent a hard kill.
	KillGrace time.Duration
}

// Executor runs AtomicNode subprocess scripts against a Knowledge Layer.
type Executor struct {
	store *kg.Store
	cfg   Config
}

func New(store *kg.Store, cfg Config) *Executor {
	return &Executor{store: store, cfg: cfg}
}

// Result is the structured outcome of one successful node invocation.
type Result struct {
	Inputs          map[string]domain.Term
	Outputs         map[string]domain.Term
	RDFInstructions domain.RDFInstructions
	OutputTriples   []domain.Triple
	Stdout          []byte
}

// Execute resolves node's inputs from workflowContext, invokes its script,
// and returns the parsed, validated result.
func (e *Executor) Execute(ctx context.Context, node domain.AtomicNode, workflowContext string) (*Result, error) {
	inputs, err := e.resolveInputs(ctx, node, workflowContext)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := e.runScript(ctx, node, inputs)
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal(stdout, &parsed); err != nil {
		return nil, &kerrors.ScriptError{NodeURI: node.URI, Cause: fmt.Errorf("parse stdout as JSON: %w", err), StderrTail: tail(stderr, stderrTailBytes)}
	}

	if err := validateAgainstOutputSchema(node, parsed); err != nil {
		return nil, &kerrors.ScriptError{NodeURI: node.URI, Cause: fmt.Errorf("stdout failed output schema validation: %w", err), StderrTail: tail(stderr, stderrTailBytes)}
	}

	var instr domain.RDFInstructions
	if raw, ok := parsed["_rdf_instructions"]; ok {
		b, _ := json.Marshal(raw)
		if err := json.Unmarshal(b, &instr); err != nil {
			return nil, &kerrors.ScriptError{NodeURI: node.URI, Cause: fmt.Errorf("parse _rdf_instructions: %w", err), StderrTail: tail(stderr, stderrTailBytes)}
		}
		delete(parsed, "_rdf_instructions")
	}

	outputs, err := coerceOutputs(node, parsed)
	if err != nil {
		return nil, &kerrors.ScriptError{NodeURI: node.URI, Cause: err, StderrTail: tail(stderr, stderrTailBytes)}
	}

	outputTriples := buildOutputTriples(node, workflowContext, outputs)

	return &Result{Inputs: inputs, Outputs: outputs, RDFInstructions: instr, OutputTriples: outputTriples, Stdout: stdout}, nil
}

func (e *Executor) resolveInputs(ctx context.Context, node domain.AtomicNode, workflowContext string) (map[string]domain.Term, error) {
	subject := domain.IRI(workflowContext)
	inputs := make(map[string]domain.Term, len(node.Inputs))
	for _, in := range node.Inputs {
		prop := domain.IRI(in.MapsToRdfProperty)
		val, found, err := e.store.GetSingle(ctx, subject, prop)
		if err != nil {
			return nil, fmt.Errorf("resolve input %q: %w", in.Name, err)
		}
		if !found {
			if in.IsRequired {
				return nil, &kerrors.MissingInputError{NodeURI: node.URI, ParamName: in.Name}
			}
			continue
		}
		inputs[in.Name] = *val
	}
	return inputs, nil
}

func (e *Executor) runScript(ctx context.Context, node domain.AtomicNode, inputs map[string]domain.Term) (stdout, stderr []byte, err error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	args := buildArgs(node, inputs)

	cmd := exec.CommandContext(ctx, node.Invocation.ScriptPath, args...)
	cmd.Dir = filepath.Dir(node.Invocation.ScriptPath)
	cmd.Env = sanitizedEnv(e.cfg.EnvAllowlist)

	if e.cfg.KillGrace > 0 {
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = e.cfg.KillGrace
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.Bytes(), errBuf.Bytes()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, stderr, &kerrors.TimeoutError{NodeURI: node.URI, Timeout: e.cfg.Timeout.String()}
	}
	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, stderr, &kerrors.ScriptError{NodeURI: node.URI, ExitCode: exitCode, StderrTail: tail(stderr, stderrTailBytes), Cause: runErr}
	}
	return stdout, stderr, nil
}

func buildArgs(node domain.AtomicNode, inputs map[string]domain.Term) []string {
	switch node.Invocation.ArgumentPassingStyle {
	case domain.PositionalCLI:
		args := make([]string, 0, len(node.Inputs))
		for _, in := range node.Inputs {
			if v, ok := inputs[in.Name]; ok {
				args = append(args, v.Value)
			} else {
				args = append(args, "")
			}
		}
		return args
	default: // NamedCLI
		args := make([]string, 0, len(node.Inputs)*2)
		for _, in := range node.Inputs {
			if v, ok := inputs[in.Name]; ok {
				args = append(args, "--"+in.Name, v.Value)
			}
		}
		return args
	}
}

// sanitizedEnv filters the parent process's environment down to the
// variables named in allowlist; an unset or empty allowlist forwards
// nothing.
func sanitizedEnv(allowlist []string) []string {
	if len(allowlist) == 0 {
		// non-nil on purpose: a nil cmd.Env inherits the whole parent environment
		return []string{}
	}
	wanted := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		wanted[name] = true
	}
	env := make([]string, 0, len(allowlist))
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if ok && wanted[name] {
			env = append(env, kv)
		}
	}
	return env
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

// validateAgainstOutputSchema compiles a JSON schema from node's declared
// Outputs and validates the script's parsed stdout object against it,
// tolerating the reserved `_rdf_instructions` key and any extra fields.
func validateAgainstOutputSchema(node domain.AtomicNode, parsed map[string]any) error {
	if len(node.Outputs) == 0 {
		return nil
	}

	properties := map[string]any{}
	var required []string
	for _, out := range node.Outputs {
		properties[out.Name] = map[string]any{"type": jsonSchemaType(out.DataType)}
		if out.IsRequired {
			required = append(required, out.Name)
		}
	}
	schemaDoc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		schemaDoc["required"] = required
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("output-schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("output-schema.json")
	if err != nil {
		return fmt.Errorf("compile output schema: %w", err)
	}

	payload := map[string]any{}
	for k, v := range parsed {
		payload[k] = v
	}
	delete(payload, "_rdf_instructions")

	return schema.Validate(payload)
}

func jsonSchemaType(dataType string) string {
	switch dataType {
	case domain.XSDInteger, domain.XSDDouble:
		return "number"
	case domain.XSDBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// coerceOutputs maps each declared OutputParameter to a domain.Term typed
// per its DataType, from the script's parsed JSON stdout.
func coerceOutputs(node domain.AtomicNode, parsed map[string]any) (map[string]domain.Term, error) {
	outputs := make(map[string]domain.Term, len(node.Outputs))
	for _, out := range node.Outputs {
		raw, ok := parsed[out.Name]
		if !ok {
			if out.IsRequired {
				return nil, fmt.Errorf("missing required output %q in stdout", out.Name)
			}
			continue
		}
		lexical, err := toLexical(raw, out.DataType)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", out.Name, err)
		}
		if out.DataType == "" || out.DataType == domain.XSDString {
			outputs[out.Name] = domain.Literal(lexical, domain.XSDString)
		} else if isXSDDatatype(out.DataType) {
			outputs[out.Name] = domain.Literal(lexical, out.DataType)
		} else {
			// DataType names a class URI: the output value is itself an entity reference.
			outputs[out.Name] = domain.IRI(lexical)
		}
	}
	return outputs, nil
}

func isXSDDatatype(dt string) bool {
	switch dt {
	case domain.XSDString, domain.XSDInteger, domain.XSDDouble, domain.XSDBoolean, domain.XSDDateTime:
		return true
	}
	return false
}

func toLexical(v any, dataType string) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		if dataType == domain.XSDInteger {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", fmt.Errorf("value is null")
	default:
		return "", fmt.Errorf("unsupported JSON value type %T", v)
	}
}

// buildOutputTriples writes (workflowContext, p.MapsToRdfProperty, value)
// for every declared OutputParameter p that the script actually returned.
// This runs unconditionally for every declared output: Effects describe
// the node's expected impact for the planner's regression analysis, not
// what gets written -- a node can declare an output with no corresponding
// Effect and its value is still recorded.
func buildOutputTriples(node domain.AtomicNode, workflowContext string, outputs map[string]domain.Term) []domain.Triple {
	var triples []domain.Triple
	subject := domain.IRI(workflowContext)
	for _, out := range node.Outputs {
		val, ok := outputs[out.Name]
		if !ok {
			continue
		}
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(out.MapsToRdfProperty), Object: val, Context: workflowContext})
	}
	return triples
}
