package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BadgerOps/liveinstall/internal/apt"
	"github.com/BadgerOps/liveinstall/internal/debconf"
)

const langpacksTitle = "liveinstall/langpacks/title"

// words splits a debconf list that may use commas, spaces or both.
func words(v string) []string {
	return strings.Fields(strings.ReplaceAll(v, ",", " "))
}

// get returns the answer to q and whether the question exists.
func (in *Installer) get(q string) (string, bool, error) {
	v, err := in.db.Get(q)
	if errors.Is(err, debconf.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", q, err)
	}
	return v, true, nil
}

// languages returns the language codes to keep language packs for.
func (in *Installer) languages() ([]string, error) {
	for _, q := range []string{"base-config/language-packs", "pkgsel/language-packs"} {
		v, _, err := in.get(q)
		if err != nil {
			return nil, err
		}
		if langs := words(v); len(langs) > 0 {
			return langs, nil
		}
	}

	v, _, err := in.get("localechooser/supported-locales")
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, locale := range words(v) {
		lang, _, _ := strings.Cut(locale, "_")
		set[lang] = true
	}
	if len(set) > 0 {
		langs := make([]string, 0, len(set))
		for l := range set {
			langs = append(langs, l)
		}
		sort.Strings(langs)
		return langs, nil
	}

	locale, err := in.db.Get("debian-installer/locale")
	if err != nil {
		return nil, fmt.Errorf("reading debian-installer/locale: %w", err)
	}
	lang, _, _ := strings.Cut(locale, "_")
	return []string{lang}, nil
}

// languagePackages expands patterns such as "language-pack-gnome-$LL" for
// every language.
func languagePackages(langs, patterns []string) []string {
	var out []string
	for _, lang := range langs {
		out = append(out, "language-pack-"+lang)
		for _, p := range patterns {
			out = append(out, strings.ReplaceAll(p, "$LL", lang))
		}
		out = append(out, "language-support-"+lang)
	}
	return out
}

func (in *Installer) languagePacksStage(ctx context.Context) error {
	langs, err := in.languages()
	if err != nil {
		return err
	}
	in.logger.Info("keeping language packs", "languages", langs)

	v, found, err := in.get("pkgsel/language-pack-patterns")
	if err != nil || !found {
		return err
	}
	toInstall := languagePackages(langs, strings.Fields(v))
	if err := in.record.Append(toInstall...); err != nil {
		return err
	}

	r := in.reporter
	in.ignore(r.Start(0, 100, langpacksTitle))
	defer func() { in.ignore(r.Stop()) }()

	in.ignore(r.Region(0, 10))
	cache, err := in.OpenCache(ctx)
	if err != nil {
		return err
	}
	indices := apt.NewProgressFetch(r, langpacksTitle, "liveinstall/install/apt_indices_starting", "liveinstall/install/apt_indices", in.logger)
	ok, err := apt.NewTransaction(cache, in.logger).Update(ctx, indices)
	if err != nil {
		return err
	}
	if !ok {
		return &StageFailure{Stage: "langpacks", Err: errors.New("updating package indices failed")}
	}
	// the indices changed, so read the cache again
	cache, err = in.OpenCache(ctx)
	if err != nil {
		return err
	}
	in.ignore(r.Set(10))

	in.ignore(r.Region(10, 100))
	tx := apt.NewTransaction(cache, in.logger)
	if _, err := tx.MarkInstallAll(toInstall); err != nil {
		return err
	}
	changes := tx.Changes()
	if err := in.record.Append(changes.Install...); err != nil {
		return err
	}
	fetch := apt.NewProgressFetch(r, langpacksTitle, "", "liveinstall/langpacks/packages", in.logger)
	install := apt.NewProgressInstall(r, langpacksTitle, "liveinstall/install/apt_info", "liveinstall/install/apt_error_install", in.logger)
	ok, err = tx.Commit(ctx, fetch, install)
	in.notifyPackages("langpacks", changes, ok && err == nil)
	if err != nil {
		return err
	}
	if !ok {
		return &StageFailure{Stage: "langpacks", Err: fmt.Errorf("installing language packs failed: %v", install.Errors())}
	}
	in.ignore(r.Set(100))
	return nil
}
