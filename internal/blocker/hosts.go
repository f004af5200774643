package blocker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	hostsBegin   = "# BEGIN taskgate"
	hostsEnd     = "# END taskgate"
	hostsRuleTag = "# taskgate:"
)

// HostsFile enforces rules through a managed section of a hosts file. Each
// rule points the domain and its listed subdomains at Address, where the
// block page server listens. Lines outside the section are never touched.
//
// Hosts files have no wildcards, so a subdomain that isn't listed resolves
// normally; the tab hub and the block page's host matching still catch it
// in the browser.
type HostsFile struct {
	Path       string
	Address    string
	Subdomains []string
}

// NewHostsFile creates an engine for the hosts file at path. Without
// subdomains only the www. alias is covered.
func NewHostsFile(path, address string, subdomains ...string) *HostsFile {
	if len(subdomains) == 0 {
		subdomains = []string{"www"}
	}
	return &HostsFile{Path: path, Address: address, Subdomains: subdomains}
}

// Rules parses the rules in the managed section
func (h *HostsFile) Rules(context.Context) ([]Rule, error) {
	_, section, _, err := h.read()
	if err != nil {
		return nil, err
	}

	var rules []Rule
	for _, line := range section {
		if r, ok := parseHostsRule(line); ok {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// Update rewrites the managed section without the removed rules and with
// the added ones.
func (h *HostsFile) Update(_ context.Context, removeIDs []int, add []Rule) error {
	before, section, after, err := h.read()
	if err != nil {
		return err
	}

	var kept []string
	for _, line := range section {
		r, ok := parseHostsRule(line)
		if !ok || slices.Contains(removeIDs, r.ID) {
			continue
		}
		kept = append(kept, line)
	}
	for _, r := range add {
		kept = append(kept, h.ruleLine(r))
	}

	var buf bytes.Buffer
	for _, line := range before {
		buf.WriteString(line + "\n")
	}
	if len(kept) > 0 {
		buf.WriteString(hostsBegin + "\n")
		for _, line := range kept {
			buf.WriteString(line + "\n")
		}
		buf.WriteString(hostsEnd + "\n")
	}
	for _, line := range after {
		buf.WriteString(line + "\n")
	}

	return writeFileAtomic(h.Path, buf.Bytes())
}

// read splits the file into the lines before, inside and after the
// managed section. A missing file reads as empty.
func (h *HostsFile) read() (before, section, after []string, err error) {
	data, err := os.ReadFile(h.Path)
	if os.IsNotExist(err) {
		return nil, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	const (
		outside = iota
		inside
		past
	)
	state := outside
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case state == outside && strings.TrimSpace(line) == hostsBegin:
			state = inside
		case state == inside && strings.TrimSpace(line) == hostsEnd:
			state = past
		case state == inside:
			section = append(section, line)
		case state == outside:
			before = append(before, line)
		default:
			after = append(after, line)
		}
	}
	return before, section, after, scanner.Err()
}

func (h *HostsFile) ruleLine(r Rule) string {
	names := []string{h.Address, r.Domain}
	for _, sub := range h.Subdomains {
		sub = strings.Trim(strings.TrimSpace(sub), ".")
		if sub == "" {
			continue
		}
		names = append(names, sub+"."+r.Domain)
	}
	return fmt.Sprintf("%s %s%d", strings.Join(names, " "), hostsRuleTag, r.ID)
}

func parseHostsRule(line string) (Rule, bool) {
	i := strings.Index(line, hostsRuleTag)
	if i < 0 {
		return Rule{}, false
	}
	id, err := strconv.Atoi(strings.TrimSpace(line[i+len(hostsRuleTag):]))
	if err != nil {
		return Rule{}, false
	}
	fields := strings.Fields(line[:i])
	if len(fields) < 2 {
		return Rule{}, false
	}
	return Rule{ID: id, Domain: fields[1]}, true
}

// writeFileAtomic replaces path through a temp file in the same directory,
// keeping the original permissions.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".taskgate-hosts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
