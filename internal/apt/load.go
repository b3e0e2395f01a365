package apt

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadPackages reads the dpkg status database and the downloaded Packages
// indices below root and merges them into one package list.
func LoadPackages(root string, logger *slog.Logger) ([]Package, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pkgs := make(map[string]*Package)

	statusPath := filepath.Join(root, "var/lib/dpkg/status")
	stanzas, err := readControlFile(statusPath)
	if err != nil {
		return nil, err
	}
	for _, s := range stanzas {
		p := packageFromStanza(s)
		if p.Name == "" {
			continue
		}
		p.Installed = installedStatus(s["Status"])
		if !p.Installed {
			continue
		}
		pkgs[p.Name] = &p
	}

	lists, err := filepath.Glob(filepath.Join(root, "var/lib/apt/lists/*_Packages*"))
	if err != nil {
		return nil, fmt.Errorf("listing package indices: %w", err)
	}
	sort.Strings(lists)
	for _, path := range lists {
		if strings.Contains(filepath.Base(path), ".diff") {
			continue
		}
		stanzas, err := readControlFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded package index", "path", path, "packages", len(stanzas))
		for _, s := range stanzas {
			avail := packageFromStanza(s)
			if avail.Name == "" {
				continue
			}
			if p, ok := pkgs[avail.Name]; ok {
				p.Available = true
				continue
			}
			avail.Available = true
			pkgs[avail.Name] = &avail
		}
	}

	out := make([]Package, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readControlFile(path string) ([]Stanza, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data, err = Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stanzas, err := ParseControl(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stanzas, nil
}

func packageFromStanza(s Stanza) Package {
	p := Package{
		Name:      s["Package"],
		Version:   s["Version"],
		Essential: strings.EqualFold(s["Essential"], "yes"),
		Conflicts: append(ParseNames(s["Conflicts"]), ParseNames(s["Breaks"])...),
		Provides:  ParseNames(s["Provides"]),
	}
	p.Depends = append(ParseRelations(s["Pre-Depends"]), ParseRelations(s["Depends"])...)
	return p
}

// installedStatus interprets the dpkg Status field ("want flag status").
func installedStatus(status string) bool {
	f := strings.Fields(status)
	if len(f) != 3 {
		return false
	}
	switch f[2] {
	case "installed", "half-configured", "unpacked", "triggers-awaited", "triggers-pending":
		return true
	}
	return false
}
