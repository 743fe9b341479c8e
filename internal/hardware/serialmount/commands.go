// Package serialmount drives a mount over a serial line using a YAML command
// table: each logical command maps to the device string sent between the
// table's prefix and suffix.
package serialmount

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// Command is one entry of the table. Params names the argument format when
// the command takes one; Response is the reply that signals success.
type Command struct {
	Cmd      string `yaml:"cmd"`
	Params   string `yaml:"params,omitempty"`
	Response string `yaml:"response,omitempty"`
}

// StatusFormat decodes the reply to get_status. Pattern must use named
// groups; Lookup maps each group's raw value to text.
type StatusFormat struct {
	Pattern string                       `yaml:"pattern"`
	Lookup  map[string]map[string]string `yaml:"lookup"`
}

type CommandTable struct {
	CmdPre      string             `yaml:"cmd_pre"`
	CmdPost     string             `yaml:"cmd_post"`
	Commands    map[string]Command `yaml:"commands"`
	Status      StatusFormat       `yaml:"status"`
	Coordinates string             `yaml:"coordinates"`

	statusRe *regexp.Regexp
	coordRe  *regexp.Regexp
}

var requiredCommands = []string{
	"get_status", "get_coordinates", "set_ra", "set_dec",
	"slew_to_target", "goto_home", "park", "unpark", "calibrate_mount",
}

func LoadCommandTable(path string) (*CommandTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mount commands: %w", err)
	}
	return ParseCommandTable(data)
}

func ParseCommandTable(data []byte) (*CommandTable, error) {
	var t CommandTable
	if err := yamlv3.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse mount commands: %w", err)
	}
	if t.CmdPre == "" {
		t.CmdPre = ":"
	}
	if t.CmdPost == "" {
		t.CmdPost = "#"
	}
	for _, name := range requiredCommands {
		if _, ok := t.Commands[name]; !ok {
			return nil, fmt.Errorf("mount commands: missing %q", name)
		}
	}

	var err error
	if t.statusRe, err = compileAnchored(t.Status.Pattern); err != nil {
		return nil, fmt.Errorf("mount commands: status pattern: %w", err)
	}
	if t.Coordinates == "" {
		t.Coordinates = `(?P<dec_sign>[+-])(?P<dec_cas>\d{8})(?P<ra_ms>\d{8})`
	}
	if t.coordRe, err = compileAnchored(t.Coordinates); err != nil {
		return nil, fmt.Errorf("mount commands: coordinates pattern: %w", err)
	}
	return &t, nil
}

func compileAnchored(p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	return regexp.Compile("^(?:" + p + ")$")
}

// Format builds the wire string for name. params must be non-empty exactly
// when the command declares Params.
func (t *CommandTable) Format(name, params string) (string, error) {
	c, ok := t.Commands[name]
	if !ok {
		return "", fmt.Errorf("no command for %q", name)
	}
	if c.Params != "" && params == "" {
		return "", fmt.Errorf("%s expects params: %s", name, c.Params)
	}
	if c.Params == "" && params != "" {
		return "", fmt.Errorf("%s takes no params", name)
	}
	return t.CmdPre + c.Cmd + params + t.CmdPost, nil
}

// DecodeStatus matches raw against the status pattern and maps each group
// through the lookup table. Unknown values are kept raw.
func (t *CommandTable) DecodeStatus(raw string) (map[string]string, error) {
	m := t.statusRe.FindStringSubmatch(strings.TrimSuffix(raw, t.CmdPost))
	if m == nil {
		return nil, fmt.Errorf("status %q does not match %s", raw, t.Status.Pattern)
	}
	out := make(map[string]string)
	for i, name := range t.statusRe.SubexpNames() {
		if name == "" {
			continue
		}
		v := m[i]
		if text, ok := t.Status.Lookup[name][v]; ok {
			v = text
		}
		out[name] = v
	}
	return out, nil
}
