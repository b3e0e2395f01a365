package apt

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BadgerOps/liveinstall/internal/progress"
)

func installed(name string, deps ...string) Package {
	p := Package{Name: name, Installed: true, Available: true}
	for _, d := range deps {
		p.Depends = append(p.Depends, []string{d})
	}
	return p
}

func available(name string, deps ...string) Package {
	p := installed(name, deps...)
	p.Installed = false
	return p
}

func newCache(t *testing.T, pkgs ...Package) (*Depcache, *MemoryBackend) {
	t.Helper()
	b := NewMemoryBackend(nil)
	return NewDepcache(pkgs, b, nil), b
}

func TestDepcacheBrokenAndProvides(t *testing.T) {
	mta := installed("postfix")
	mta.Provides = []string{"mail-transport-agent"}
	mailx := installed("mailutils", "mail-transport-agent")
	d, _ := newCache(t, mta, mailx, installed("base"))

	if n := d.BrokenCount(); n != 0 {
		t.Fatalf("BrokenCount() = %d on a consistent system", n)
	}
	if err := d.MarkDelete("postfix", false, true); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"mailutils"}, d.Broken()); diff != "" {
		t.Errorf("Broken() (-want +got):\n%s", diff)
	}
	d.MarkKeep("postfix")
	if d.BrokenCount() != 0 {
		t.Error("MarkKeep did not restore consistency")
	}
}

func TestDepcacheAlternatives(t *testing.T) {
	app := installed("app")
	app.Depends = [][]string{{"libssl3", "libssl1.1"}}
	d, _ := newCache(t, app, installed("libssl3"), installed("libssl1.1"))

	_ = d.MarkDelete("libssl3", false, true)
	if d.BrokenCount() != 0 {
		t.Errorf("alternative should still satisfy app: %v", d.Broken())
	}
	_ = d.MarkDelete("libssl1.1", false, true)
	if d.BrokenCount() != 1 {
		t.Errorf("BrokenCount() = %d, want 1", d.BrokenCount())
	}
}

func TestDepcacheMarkInstallPullsDependencies(t *testing.T) {
	d, _ := newCache(t,
		available("language-pack-de", "language-pack-de-base"),
		available("language-pack-de-base", "locales"),
		installed("locales"),
	)
	if err := d.MarkInstall("language-pack-de"); err != nil {
		t.Fatal(err)
	}
	want := Changes{Install: []string{"language-pack-de", "language-pack-de-base"}}
	if diff := cmp.Diff(want, d.Changes()); diff != "" {
		t.Errorf("Changes() (-want +got):\n%s", diff)
	}
	d.MarkKeep("language-pack-de")
	if !d.Changes().Empty() {
		t.Errorf("MarkKeep left changes: %+v", d.Changes())
	}
}

func TestDepcacheEssentialAndUnknown(t *testing.T) {
	base := installed("base-files")
	base.Essential = true
	d, _ := newCache(t, base)
	if err := d.MarkDelete("base-files", false, true); !errors.Is(err, ErrEssential) {
		t.Errorf("MarkDelete(essential) = %v, want ErrEssential", err)
	}
	if err := d.MarkInstall("nope"); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("MarkInstall(unknown) = %v, want ErrUnknownPackage", err)
	}
}

func TestDepcacheAutoFix(t *testing.T) {
	d, _ := newCache(t, installed("a"), installed("b", "a"), installed("c", "b"))
	if err := d.MarkDelete("a", true, false); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, d.Changes().Remove); diff != "" {
		t.Errorf("autofix removals (-want +got):\n%s", diff)
	}
	if d.BrokenCount() != 0 {
		t.Error("autofix left broken packages")
	}
}

func TestMarkRemoveNonRecursiveReverts(t *testing.T) {
	d, _ := newCache(t, installed("a"), installed("b", "a"))
	tx := NewTransaction(d, nil)

	removed, err := tx.MarkRemove([]string{"a"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	if d.MarkedDelete("a") {
		t.Error("a should have been reverted to keep")
	}
	if d.BrokenCount() != 0 {
		t.Errorf("BrokenCount() = %d, want 0", d.BrokenCount())
	}
}

func TestMarkRemoveRecursiveExtends(t *testing.T) {
	d, _ := newCache(t, installed("a"), installed("b", "a"), installed("unrelated"))
	tx := NewTransaction(d, nil)

	removed, err := tx.MarkRemove([]string{"a"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if d.BrokenCount() != 0 {
		t.Errorf("BrokenCount() = %d, want 0", d.BrokenCount())
	}
}

func TestMarkRemoveRecursiveExtendsOnlyOneLevel(t *testing.T) {
	d, _ := newCache(t, installed("a"), installed("b", "a"), installed("c", "b"))
	tx := NewTransaction(d, nil)

	removed, err := tx.MarkRemove([]string{"a"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	for _, name := range []string{"a", "b", "c"} {
		if d.MarkedDelete(name) {
			t.Errorf("%s still marked for removal", name)
		}
	}
	if d.BrokenCount() != 0 {
		t.Errorf("BrokenCount() = %d, want 0", d.BrokenCount())
	}
}

func TestMarkRemoveExtendsWithinRequestedSet(t *testing.T) {
	d, _ := newCache(t,
		installed("linux-image-1"),
		installed("linux-restricted-modules-1", "linux-image-1"),
		installed("nvidia-1", "linux-restricted-modules-1"),
	)
	tx := NewTransaction(d, nil)
	set := []string{"linux-image-1", "linux-restricted-modules-1", "nvidia-1"}

	removed, err := tx.MarkRemove(set, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(set, removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
}

func TestMarkRemoveSkipsBlockedPackages(t *testing.T) {
	ess := installed("dpkg")
	ess.Essential = true
	d, _ := newCache(t, ess, installed("casper"), installed("ubiquity-frontend", "ubiquity"), installed("ubiquity"))
	tx := NewTransaction(d, nil)

	removed, err := tx.MarkRemove([]string{"dpkg", "casper", "ubiquity", "missing-entirely"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"casper"}, removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if d.BrokenCount() != 0 {
		t.Error("cache left inconsistent")
	}
}

func TestMarkInstall(t *testing.T) {
	conflicting := available("language-pack-fr")
	conflicting.Conflicts = []string{"locales"}

	d, _ := newCache(t,
		installed("locales"),
		available("language-pack-de", "locales"),
		conflicting,
		Package{Name: "ghost"},
	)
	tx := NewTransaction(d, nil)

	tests := []struct {
		name string
		want bool
	}{
		{"language-pack-de", true},
		{"locales", false},          // already installed
		{"unknown", false},          // not in the cache
		{"language-pack-fr", false}, // conflicts, reverted
		{"ghost", false},            // no candidate, reverted
	}
	for _, tt := range tests {
		got, err := tx.MarkInstall(tt.name)
		if err != nil {
			t.Fatalf("MarkInstall(%s) error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("MarkInstall(%s) = %v, want %v", tt.name, got, tt.want)
		}
		if d.BrokenCount() != 0 {
			t.Fatalf("BrokenCount() = %d after %s", d.BrokenCount(), tt.name)
		}
	}
	if diff := cmp.Diff([]string{"language-pack-de"}, tx.Changes().Install); diff != "" {
		t.Errorf("installs (-want +got):\n%s", diff)
	}
}

func TestCommitOnce(t *testing.T) {
	d, b := newCache(t, available("language-pack-de"), installed("casper"))
	tx := NewTransaction(d, nil)
	if _, err := tx.MarkInstall("language-pack-de"); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.MarkRemove([]string{"casper"}, false); err != nil {
		t.Fatal(err)
	}

	fetchRec, installRec := &progress.Recorder{}, &progress.Recorder{}
	fetch := NewProgressFetch(fetchRec, "liveinstall/langpacks/title", "", "liveinstall/langpacks/packages", nil)
	install := NewProgressInstall(installRec, "liveinstall/langpacks/title", "liveinstall/install/apt_info", "", nil)

	ok, err := tx.Commit(context.Background(), fetch, install)
	if err != nil || !ok {
		t.Fatalf("Commit() = %v, %v", ok, err)
	}
	if !d.IsInstalled("language-pack-de") || d.IsInstalled("casper") {
		t.Error("cache does not reflect the commit")
	}
	if len(b.Commits()) != 1 || !b.Commits()[0].Purge {
		t.Errorf("backend commits = %+v", b.Commits())
	}
	if fetchRec.Count(progress.KindStart) != 1 || fetchRec.Count(progress.KindStop) != 1 {
		t.Errorf("fetch bar not started and stopped once: %v", fetchRec.Events())
	}
	var descriptions []string
	for _, e := range installRec.Events() {
		if e.Kind == progress.KindInfo {
			descriptions = append(descriptions, e.Vars["DESCRIPTION"])
		}
	}
	if diff := cmp.Diff([]string{"Removing casper", "Installing language-pack-de"}, descriptions); diff != "" {
		t.Errorf("install descriptions (-want +got):\n%s", diff)
	}

	if _, err := tx.Commit(context.Background(), nil, nil); !errors.Is(err, ErrCommitted) {
		t.Errorf("second Commit() = %v, want ErrCommitted", err)
	}
}

func TestCommitFetchCancelledByObserver(t *testing.T) {
	d, _ := newCache(t, available("a"), available("b"))
	tx := NewTransaction(d, nil)
	_, _ = tx.MarkInstallAll([]string{"a", "b"})

	rec := &progress.Recorder{Fail: func(e progress.Event) error {
		if e.Kind == progress.KindSet {
			return progress.ErrAborted
		}
		return nil
	}}
	fetch := NewProgressFetch(rec, "t", "", "i", nil)
	ok, err := tx.Commit(context.Background(), fetch, nil)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if ok {
		t.Error("cancelled fetch must report failure")
	}
	if d.IsInstalled("a") {
		t.Error("cache changed after failed commit")
	}
}

func TestCommitInstallError(t *testing.T) {
	d, b := newCache(t, available("broken-postinst"))
	b.FailInstall = map[string]string{"broken-postinst": "subprocess post-installation script returned error exit status 1"}
	tx := NewTransaction(d, nil)
	_, _ = tx.MarkInstall("broken-postinst")

	rec := &progress.Recorder{}
	install := NewProgressInstall(rec, "t", "liveinstall/install/apt_info", "liveinstall/install/apt_error_install", nil)
	ok, err := tx.Commit(context.Background(), nil, install)
	if err != nil || ok {
		t.Fatalf("Commit() = %v, %v; want false, nil", ok, err)
	}
	if len(install.Errors()) != 1 {
		t.Errorf("Errors() = %v", install.Errors())
	}
	found := false
	for _, e := range rec.Events() {
		if e.Kind == progress.KindInfo && e.Template == "liveinstall/install/apt_error_install" && e.Vars["PACKAGE"] == "broken-postinst" {
			found = true
		}
	}
	if !found {
		t.Error("error template not reported")
	}
}

func TestCommitNothing(t *testing.T) {
	d, b := newCache(t, installed("a"))
	ok, err := NewTransaction(d, nil).Commit(context.Background(), nil, nil)
	if err != nil || !ok {
		t.Fatalf("Commit() = %v, %v", ok, err)
	}
	if len(b.Commits()) != 0 {
		t.Error("empty transaction reached the backend")
	}
}

func TestUpdate(t *testing.T) {
	d, b := newCache(t)
	rec := &progress.Recorder{}
	fetch := NewProgressFetch(rec, "liveinstall/langpacks/title", "liveinstall/install/apt_indices_starting", "liveinstall/install/apt_indices", nil)
	ok, err := NewTransaction(d, nil).Update(context.Background(), fetch)
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	if b.Updates() != 1 {
		t.Errorf("Updates() = %d", b.Updates())
	}
	if diff := cmp.Diff([]int{0, 25, 50, 75, 100}, rec.Values()); diff != "" {
		t.Errorf("fetch values (-want +got):\n%s", diff)
	}
}
