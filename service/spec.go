package service

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/policy"
	"github.com/pithecene-io/hearth/process"
	"github.com/pithecene-io/hearth/types"
)

// ServiceSpec is everything needed to launch and route one service.
type ServiceSpec struct {
	Name   string
	Binary string
	Args   []string
	// Route selects the platform route table entry for outbound delivery.
	Route     uint32
	Essential bool

	Dir        string
	Credential *process.Credential
	// Filter, when set, checks events in both directions (user services).
	Filter *policy.Filter
}

// sameLaunch reports whether two specs would start the same process.
func (s ServiceSpec) sameLaunch(other ServiceSpec) bool {
	return s.Binary == other.Binary &&
		slices.Equal(s.Args, other.Args) &&
		s.Dir == other.Dir &&
		s.Route == other.Route &&
		s.Essential == other.Essential
}

// ResolveSpecs turns configured services into specs. Entries referencing a
// package take their binary, working directory, credentials and (for user
// services) permissions from the package record. Entries that cannot be
// resolved are skipped with a warning.
func ResolveSpecs(entries []config.ServiceConfig, packages *config.Index, protected map[types.EventType]bool, user bool, warn config.WarnFunc) []ServiceSpec {
	if warn == nil {
		warn = func(string, map[string]any) {}
	}
	specs := make([]ServiceSpec, 0, len(entries))
	for _, entry := range entries {
		spec, err := resolveSpec(entry, packages, protected, user)
		if err != nil {
			warn("skipping service", map[string]any{"service": entry.Name, "error": err.Error()})
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

func resolveSpec(entry config.ServiceConfig, packages *config.Index, protected map[types.EventType]bool, user bool) (ServiceSpec, error) {
	spec := ServiceSpec{
		Name:      entry.Name,
		Binary:    entry.Binary,
		Args:      entry.Args,
		Route:     entry.Route,
		Essential: entry.Essential,
	}
	filterCfg := policy.Config{Role: types.RoleService, Protected: protected}

	if entry.Package != "" {
		if packages == nil {
			return ServiceSpec{}, fmt.Errorf("package %s: no package index", entry.Package)
		}
		pkg, ok := packages.Lookup(entry.Package)
		if !ok {
			return ServiceSpec{}, fmt.Errorf("package %s not found", entry.Package)
		}
		if pkg.ProtocolVersion > types.MaxProtocolVersion {
			return ServiceSpec{}, fmt.Errorf("package %s: unsupported protocol version %d", pkg.Name, pkg.ProtocolVersion)
		}
		if spec.Binary == "" {
			spec.Binary = pkg.ServiceBinary
		}
		if spec.Binary == "" {
			spec.Binary = pkg.Binary
		}
		spec.Dir = pkg.Path
		if pkg.UID != nil && pkg.GID != nil {
			spec.Credential = &process.Credential{UID: *pkg.UID, GID: *pkg.GID}
		}
		filterCfg.Permissions = pkg.Permissions
		filterCfg.MaxVersion = pkg.ProtocolVersion
		filterCfg.PasswordVerified = pkg.Trusted()
	}
	if spec.Binary == "" {
		return ServiceSpec{}, errors.New("no binary")
	}
	if user {
		spec.Filter = policy.NewFilter(filterCfg)
	}
	return spec, nil
}
