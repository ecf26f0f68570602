package executor

import (
	"time"

	"github.com/dontdude/coderoom/internal/domain"
)

// Default limits applied to every language.
const (
	DefaultCompileTimeout = 10 * time.Second
	DefaultRunTimeout     = 5 * time.Second
	DefaultOutputLimit    = 20000
)

// Limits are the configurable bounds shared by all policies.
type Limits struct {
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	// OutputLimit caps each of stdout and stderr, in bytes.
	OutputLimit int
}

// DefaultLimits returns the stock timeouts and output cap.
func DefaultLimits() Limits {
	return Limits{
		CompileTimeout: DefaultCompileTimeout,
		RunTimeout:     DefaultRunTimeout,
		OutputLimit:    DefaultOutputLimit,
	}
}

// Policy describes how one language is compiled and run. Argv entries are
// resolved inside the job workspace.
type Policy struct {
	Language domain.Language
	// SourceFile is the name the job source is written to.
	SourceFile string
	// Compile is empty for interpreted languages.
	Compile        []string
	Run            []string
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	OutputLimit    int
}

// Compiled reports whether the policy has a compile phase.
func (p Policy) Compiled() bool {
	return len(p.Compile) > 0
}

// Policies maps each supported language to its policy.
type Policies map[domain.Language]Policy

// NewPolicies builds the policy table for the supported languages.
func NewPolicies(l Limits) Policies {
	base := func(lang domain.Language, file string, run ...string) Policy {
		return Policy{
			Language:       lang,
			SourceFile:     file,
			Run:            run,
			CompileTimeout: l.CompileTimeout,
			RunTimeout:     l.RunTimeout,
			OutputLimit:    l.OutputLimit,
		}
	}

	cpp := base(domain.Cpp, "main.cpp", "./main")
	cpp.Compile = []string{"g++", "main.cpp", "-O2", "-std=c++17", "-o", "main"}

	return Policies{
		domain.Python:     base(domain.Python, "main.py", "python3", "main.py"),
		domain.JavaScript: base(domain.JavaScript, "main.js", "node", "main.js"),
		domain.Cpp:        cpp,
	}
}
