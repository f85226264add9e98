// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package udfc

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/udfc/expr"
)

// Config describes a registry and the
// functions to register with it.
//
// A config file is YAML (or JSON), for example:
//
//	defaultLoopBound: 1000
//	functions:
//	  - name: greet
//	    params: [ "name text" ]
//	    returns: text
//	    body: |
//	      return 'hello ' || name;
type Config struct {
	DefaultLoopBound int64            `json:"defaultLoopBound,omitempty"`
	MaxLoopBound     int64            `json:"maxLoopBound,omitempty"`
	LaneWidth        int              `json:"laneWidth,omitempty"`
	Scalar           bool             `json:"scalar,omitempty"`
	Functions        []FunctionConfig `json:"functions,omitempty"`
}

// FunctionConfig is the configuration of one function.
// Each parameter is written as "name type".
type FunctionConfig struct {
	Name    string   `json:"name"`
	Params  []string `json:"params,omitempty"`
	Returns string   `json:"returns"`
	Body    string   `json:"body"`
}

// LoadConfig reads a config file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ParseConfig(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseConfig parses the contents of a config file.
// Unknown fields are rejected.
func ParseConfig(data []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, err
	}
	if c.DefaultLoopBound < 0 || c.MaxLoopBound < 0 || c.LaneWidth < 0 {
		return nil, fmt.Errorf("negative loop bound or lane width")
	}
	return c, nil
}

// Options returns the registry options
// the config describes.
func (c *Config) Options() []Option {
	var opts []Option
	if c.DefaultLoopBound > 0 {
		opts = append(opts, WithDefaultLoopBound(c.DefaultLoopBound))
	}
	if c.MaxLoopBound > 0 {
		opts = append(opts, WithMaxLoopBound(c.MaxLoopBound))
	}
	if c.LaneWidth > 0 {
		opts = append(opts, WithLaneWidth(c.LaneWidth))
	}
	if c.Scalar {
		opts = append(opts, WithScalarExecution())
	}
	return opts
}

// Definitions returns the definitions
// of the configured functions.
func (c *Config) Definitions() ([]Definition, error) {
	out := make([]Definition, 0, len(c.Functions))
	for i := range c.Functions {
		d, err := c.Functions[i].definition()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *FunctionConfig) definition() (Definition, error) {
	d := Definition{Name: f.Name, Body: f.Body}
	ret, ok := expr.ParseType(strings.TrimSpace(f.Returns))
	if !ok {
		return d, fmt.Errorf("function %s: unknown return type %q", f.Name, f.Returns)
	}
	d.Returns = ret
	for _, p := range f.Params {
		name, typ, ok := strings.Cut(strings.TrimSpace(p), " ")
		if !ok {
			return d, fmt.Errorf("function %s: parameter %q: expected \"name type\"", f.Name, p)
		}
		t, ok := expr.ParseType(strings.TrimSpace(typ))
		if !ok {
			return d, fmt.Errorf("function %s: parameter %s: unknown type %q", f.Name, name, typ)
		}
		d.Params = append(d.Params, expr.Param{Name: name, Type: t})
	}
	return d, nil
}

// Apply registers every configured function with r.
func (c *Config) Apply(r *Registry) error {
	defs, err := c.Definitions()
	if err != nil {
		return err
	}
	for i := range defs {
		if _, err := r.Register(defs[i]); err != nil {
			return fmt.Errorf("function %s: %w", defs[i].Name, err)
		}
	}
	return nil
}
