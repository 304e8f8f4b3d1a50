// Package manifest validates and repairs package manifests before they are
// written to the sandbox. Validate is a pure function of path and content.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// FileName is the base name of files handled by Validate.
const FileName = "package.json"

// ErrInvalidManifest is returned when a manifest is not a JSON object.
var ErrInvalidManifest = errors.New("invalid package manifest")

// Result is the outcome of validating one file.
type Result struct {
	Content string
	// Fixes describes every repair applied, empty when Content is unchanged.
	Fixes []string
}

// Changed reports whether any repair was applied.
func (r Result) Changed() bool { return len(r.Fixes) > 0 }

// IsManifest reports whether filePath names a package manifest.
func IsManifest(filePath string) bool {
	return path.Base(strings.ReplaceAll(filePath, "\\", "/")) == FileName
}

var (
	openBrowser = regexp.MustCompile(`^(open|xdg-open|start)\s+https?://`)
	onlyAllow   = regexp.MustCompile(`\bonly-allow\b`)
	bareVite    = regexp.MustCompile(`^vite(\s+dev)?$`)
)

// Validate returns content, repaired when filePath is a package manifest.
// Non-manifest files are returned unchanged. Invalid manifests are returned
// unchanged together with ErrInvalidManifest.
func Validate(filePath, content string) (Result, error) {
	res := Result{Content: content}
	if !IsManifest(filePath) {
		return res, nil
	}

	var obj object
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	scripts, err := obj.object("scripts")
	if err != nil {
		return res, fmt.Errorf("%w: scripts: %v", ErrInvalidManifest, err)
	}
	if scripts == nil {
		return res, nil
	}

	for _, key := range append([]string(nil), scripts.keys...) {
		var cmd string
		if err := json.Unmarshal(scripts.values[key], &cmd); err != nil {
			continue
		}
		fixed := repairScript(key, cmd)
		switch {
		case fixed == "":
			scripts.remove(key)
			res.Fixes = append(res.Fixes, fmt.Sprintf("removed script %q", key))
		case fixed != cmd:
			scripts.setString(key, fixed)
			res.Fixes = append(res.Fixes, fmt.Sprintf("script %q: %q -> %q", key, cmd, fixed))
		}
	}

	if _, hasDev := scripts.values["dev"]; !hasDev {
		if start, ok := scripts.values["start"]; ok {
			scripts.set("dev", start)
			res.Fixes = append(res.Fixes, `added script "dev" from "start"`)
		}
	}

	if !res.Changed() {
		return res, nil
	}
	obj.setObject("scripts", scripts)
	out, err := obj.marshalIndent()
	if err != nil {
		return Result{Content: content}, err
	}
	res.Content = string(out) + "\n"
	return res, nil
}

// repairScript returns the fixed command, or "" when the script should be
// removed.
func repairScript(name, cmd string) string {
	if strings.HasPrefix(name, "pre") && onlyAllow.MatchString(cmd) {
		return ""
	}
	parts := strings.Split(cmd, "&&")
	kept := parts[:0]
	for _, p := range parts {
		if openBrowser.MatchString(strings.TrimSpace(p)) {
			continue
		}
		kept = append(kept, p)
	}
	fixed := strings.TrimSpace(strings.Join(kept, "&&"))
	if bareVite.MatchString(fixed) {
		fixed += " --host"
	}
	if fixed == "" {
		return ""
	}
	return fixed
}

// object is a JSON object that keeps its key order.
type object struct {
	keys   []string
	values map[string]json.RawMessage
}

func (o *object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("not an object")
	}
	o.values = make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("object key is not a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if _, dup := o.values[key]; !dup {
			o.keys = append(o.keys, key)
		}
		o.values[key] = raw
	}
	_, err = dec.Token()
	return err
}

func (o *object) object(key string) (*object, error) {
	raw, ok := o.values[key]
	if !ok {
		return nil, nil
	}
	var child object
	if err := json.Unmarshal(raw, &child); err != nil {
		return nil, err
	}
	return &child, nil
}

func (o *object) set(key string, raw json.RawMessage) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = raw
}

func (o *object) setString(key, value string) {
	raw, _ := json.Marshal(value)
	o.set(key, raw)
}

func (o *object) setObject(key string, child *object) {
	raw, _ := child.marshal()
	o.set(key, raw)
}

func (o *object) remove(key string) {
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			return
		}
	}
}

func (o *object) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(o.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *object) marshalIndent() ([]byte, error) {
	raw, err := o.marshal()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
