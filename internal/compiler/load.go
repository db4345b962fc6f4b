package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/procflow/internal/graph"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeGraph       = "E007" // Graph structure rejected
)

// LoadResult contains the graphs compiled from a file or directory.
type LoadResult struct {
	Graphs    []*graph.Graph
	Warnings  []CycleWarning
	FileCount int
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load compiles every process definition in path, which is either a .cue
// file or a directory holding one CUE package.
func Load(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions: %v", err)}}
	}

	cfg := &load.Config{Dir: path}
	args := []string{"."}
	files := []string{path}
	if !info.IsDir() {
		cfg.Dir = filepath.Dir(path)
		args = []string{filepath.Base(path)}
	} else {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(files)}
	errs := compileAll(value, mode, result)
	if len(result.Graphs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no process definitions found"})
	}
	return result, errs
}

// compileAll compiles each field under process into result.
func compileAll(value cue.Value, mode LoadMode, result *LoadResult) []error {
	procs := value.LookupPath(cue.ParsePath("process"))
	if !procs.Exists() {
		return nil
	}

	iter, err := procs.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating processes: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		g, err := CompileProcess(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "process."+iter.Label())...)
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		result.Graphs = append(result.Graphs, g)
		result.Warnings = append(result.Warnings, AnalyzeCycles(g)...)
	}
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to LoadErrors with
// position info. Validation failures expand to one error each.
func convertCompileError(err error, context string) []error {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]error, len(verrs))
		for i, ve := range verrs {
			out[i] = &LoadError{Code: ve.Code, Message: fmt.Sprintf("%s: %s: %s", context, ve.Field, ve.Message)}
		}
		return out
	}

	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return []error{&LoadError{
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}}
	}

	if graph.IsGraphError(err) {
		return []error{&LoadError{Code: ErrCodeGraph, Message: fmt.Sprintf("%s: %v", context, err)}}
	}

	return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", context, err)}}
}
