package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/hearth/types"
)

func writePackage(t *testing.T, root, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest failed: %v", err)
	}
	return dir
}

func TestLoadPackage(t *testing.T) {
	root := t.TempDir()
	dir := writePackage(t, root, "radio", `name: Radio
type: app
binary: bin/radio
service_binary: /opt/radio/radiod
protocol_version: 2
permissions:
  listen: [listen]
  system: [volume, shutdown, levitate]
  telepathy: [read]
uid: 1000
gid: 1000
stop_disabled: true
`)
	var warnings int
	pkg, err := LoadPackage(dir+"/", func(string, map[string]any) { warnings++ })
	if err != nil {
		t.Fatalf("LoadPackage failed: %v", err)
	}

	assertEqual(t, "path", pkg.Path, dir)
	assertEqual(t, "name", pkg.Name, "Radio")
	assertEqual(t, "binary", pkg.Binary, filepath.Join(dir, "bin/radio"))
	assertEqual(t, "service_binary", pkg.ServiceBinary, "/opt/radio/radiod")
	if pkg.ProtocolVersion != 2 {
		t.Errorf("protocol_version = %d, want 2", pkg.ProtocolVersion)
	}
	if pkg.Permissions[types.CategoryListen] != types.PermListenListen {
		t.Errorf("listen perms = %b", pkg.Permissions[types.CategoryListen])
	}
	if want := types.PermSystemVolume | types.PermSystemShutdown; pkg.Permissions[types.CategorySystem] != want {
		t.Errorf("system perms = %b, want %b", pkg.Permissions[types.CategorySystem], want)
	}
	if pkg.UID == nil || *pkg.UID != 1000 {
		t.Errorf("uid = %v, want 1000", pkg.UID)
	}
	if !pkg.StopDisabled || pkg.Trusted() {
		t.Errorf("stop_disabled=%v trusted=%v", pkg.StopDisabled, pkg.Trusted())
	}
	if warnings != 2 {
		t.Errorf("warnings = %d, want 2 (unknown bit and category)", warnings)
	}
}

func TestLoadPackage_Defaults(t *testing.T) {
	dir := writePackage(t, t.TempDir(), "home", "type: bundled\nbinary: /bin/home\n")
	pkg, err := LoadPackage(dir, nil)
	if err != nil {
		t.Fatalf("LoadPackage failed: %v", err)
	}
	assertEqual(t, "name", pkg.Name, "home")
	if pkg.ProtocolVersion != 1 {
		t.Errorf("protocol_version = %d, want 1", pkg.ProtocolVersion)
	}
	if !pkg.Trusted() {
		t.Error("bundled package should be trusted")
	}
	if len(pkg.Permissions) != 0 {
		t.Errorf("permissions = %v, want none", pkg.Permissions)
	}
}

func TestLoadPackage_Errors(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name     string
		manifest string
	}{
		{"no binary", "name: empty\n"},
		{"bad type", "type: plugin\nbinary: /bin/x\n"},
		{"unknown key", "binary: /bin/x\nicon: x.png\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writePackage(t, root, tt.name, tt.manifest)
			if _, err := LoadPackage(dir, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := LoadPackage(filepath.Join(root, "absent"), nil); err == nil {
		t.Error("expected error for missing package")
	}
}

func TestLoadIndex(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "alpha", "binary: /bin/alpha\n")
	writePackage(t, root, "beta", "type: service\nservice_binary: /bin/beta\n")
	writePackage(t, root, "broken", "type: nope\n")
	if err := os.MkdirAll(filepath.Join(root, "not-a-package"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var warnings int
	idx := LoadIndex([]string{root, filepath.Join(root, "missing")}, func(string, map[string]any) { warnings++ })

	pkgs := idx.Packages()
	if len(pkgs) != 2 || pkgs[0].Name != "alpha" || pkgs[1].Name != "beta" {
		t.Fatalf("Packages = %v, want alpha and beta", pkgs)
	}
	if warnings != 2 {
		t.Errorf("warnings = %d, want 2 (broken manifest and missing dir)", warnings)
	}
	if !idx.Exists(filepath.Join(root, "alpha")) {
		t.Error("alpha should exist")
	}
	if idx.Exists(filepath.Join(root, "not-a-package")) {
		t.Error("directory without manifest must not exist")
	}
}

func TestIndex_LookupOutsideScannedDirs(t *testing.T) {
	idx := NewIndex()
	dir := writePackage(t, t.TempDir(), "late", "binary: /bin/late\n")

	pkg, ok := idx.Lookup(dir)
	if !ok || pkg.Name != "late" {
		t.Fatalf("Lookup = %v, %v; want late package", pkg, ok)
	}
	if len(idx.Packages()) != 1 {
		t.Error("lookup result should be cached")
	}
}

func TestNewIndex(t *testing.T) {
	home := &Package{Path: "/pkg/home/", Name: "home", Type: PackageBundled, Binary: "/bin/home"}
	idx := NewIndex(home)
	got, ok := idx.Lookup("/pkg/home")
	if !ok || got != home {
		t.Errorf("Lookup = %v, %v; want home", got, ok)
	}
}
