package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed config.cue
var schemaSource string

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks c against the schema and the rules between options, and
// parses HTTPTimeoutRaw into HTTPTimeout.
func (c *Config) Validate() error {
	var problems []string

	problems = append(problems, c.checkSchema()...)

	if c.HTTPTimeoutRaw != "" {
		d, err := time.ParseDuration(c.HTTPTimeoutRaw)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("http_timeout: invalid duration %q", c.HTTPTimeoutRaw))
		case d <= 0:
			problems = append(problems, "http_timeout: must be positive")
		default:
			c.HTTPTimeout = d
		}
	} else {
		c.HTTPTimeout = DefaultHTTPTimeout
	}

	if !c.DryRun {
		if c.Username == "" {
			problems = append(problems, "username: required unless dry_run is set")
		}
		if c.Password == "" {
			problems = append(problems, "password: required unless dry_run is set")
		}
	}

	if c.ServiceURL != "" {
		if u, err := url.Parse(c.ServiceURL); err != nil || u.Host == "" {
			problems = append(problems, fmt.Sprintf("service_url: invalid URL %q", c.ServiceURL))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// checkSchema unifies c with the #Config definition.
func (c *Config) checkSchema() []string {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return []string{fmt.Sprintf("compiling schema: %v", err)}
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var problems []string
	for _, e := range cueerrors.Errors(err) {
		path := strings.TrimPrefix(strings.Join(e.Path(), "."), "#Config.")
		format, args := e.Msg()
		problems = append(problems, fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
	}
	return problems
}
