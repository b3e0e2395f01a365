package config

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// ParsePreseed reads debconf preseed lines of the form
//
//	owner question type value
//
// Comments start with '#', and a trailing backslash continues a line. The
// owner and type are not needed by the installer and are dropped.
func ParsePreseed(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	var (
		pending string
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if strings.HasSuffix(line, `\`) {
			pending += strings.TrimSuffix(line, `\`) + " "
			continue
		}
		line = pending + line
		pending = ""
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("preseed line %d: want owner, question and type, got %q", lineNo, line)
		}
		value := ""
		if len(fields) > 3 {
			value = strings.Join(fields[3:], " ")
		}
		out[fields[1]] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading preseed: %w", err)
	}
	return out, nil
}

// MergePreseed copies answers over the configured preseed map.
func (c *Config) MergePreseed(answers map[string]string) {
	if c.Preseed == nil {
		c.Preseed = make(map[string]string, len(answers))
	}
	for q, v := range answers {
		c.Preseed[q] = v
	}
}
